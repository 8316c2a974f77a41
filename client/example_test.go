package client_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"

	"github.com/jonwraymond/quotelink/client"
)

func ExampleClient_Request() {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"symbol":"AAPL","price":"187.44"}`)
	}))
	defer srv.Close()

	c, _ := client.New(client.Config{BaseURL: srv.URL})
	defer c.Close(context.Background())

	ctx := context.Background()
	req := client.RequestConfig{Path: "/stocks/AAPL"}
	for range 2 {
		resp, err := c.Request(ctx, req, client.RequestOptions{})
		if err != nil {
			fmt.Println("error:", err)
			return
		}
		fmt.Println(string(resp.Body), "cached:", resp.Cached)
	}

	n, _ := c.ClearCache(ctx, "stocks")
	fmt.Println("cleared:", n)
	// Output:
	// {"symbol":"AAPL","price":"187.44"} cached: false
	// {"symbol":"AAPL","price":"187.44"} cached: true
	// cleared: 1
}

func ExampleFetch() {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"symbol":"MSFT","name":"Microsoft"}`)
	}))
	defer srv.Close()

	c, _ := client.New(client.Config{BaseURL: srv.URL})
	defer c.Close(context.Background())

	type stock struct {
		Symbol string `json:"symbol"`
		Name   string `json:"name"`
	}
	s, err := client.Fetch[stock](context.Background(), c, client.RequestConfig{Path: "/stocks/MSFT"}, client.RequestOptions{})
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println(s.Symbol, s.Name)
	// Output:
	// MSFT Microsoft
}
