// Package push maintains the live price channel.
//
// A Manager owns one persistent connection obtained from a Transport. It
// moves through a small state machine (see State), reconnects with capped
// exponential backoff after an unexpected drop, and on every successful
// connect re-registers server-side interest for each event name that still
// has an active subscription.
//
// Subscriptions live in a Registry independent of any connection, so they
// survive reconnects without the caller subscribing again. Interest is
// coalesced per event name: the server sees one subscribe when the first
// local subscription for a name appears and one unsubscribe when the last
// one goes away.
//
// WebSocketTransport speaks a JSON frame protocol over gorilla/websocket:
//
//	client -> server  {"type":"subscribe","event":"prices.AAPL"}
//	                  {"type":"unsubscribe","event":"prices.AAPL"}
//	                  {"type":"pong"}
//	server -> client  {"type":"welcome","connection_id":"c-81f2"}
//	                  {"type":"event","event":"prices.AAPL","payload":{...}}
//	                  {"type":"ping"}
package push
