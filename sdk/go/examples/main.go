package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"indexao/sdk/go/indexao"
)

func main() {
	active := "mock"
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/plugins/switch", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		active = req["adapter_name"]
		_ = json.NewEncoder(w).Encode(indexao.SwitchResult{
			Status:  "success",
			Message: fmt.Sprintf("Switched to %s/%s", req["adapter_type"], active),
			Active:  active,
		})
	})
	mux.HandleFunc("GET /api/plugins/{kind}/active", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(indexao.ActiveAdapter{Type: r.PathValue("kind"), Name: active})
	})
	mux.HandleFunc("GET /api/plugins/history", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"history": []indexao.SwitchEvent{{
			ID: "demo", Type: "ocr", From: "mock", To: active, Timestamp: time.Now().UTC(),
		}}})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := indexao.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := client.Switch(ctx, "ocr", "tesseract")
	if err != nil {
		panic(err)
	}
	fmt.Println(res.Message)

	current, err := client.ActiveAdapter(ctx, "ocr")
	if err != nil {
		panic(err)
	}
	fmt.Printf("active ocr adapter: %s\n", current.Name)

	events, err := client.History(ctx, indexao.HistoryQuery{Type: "ocr"})
	if err != nil {
		panic(err)
	}
	for _, ev := range events {
		fmt.Printf("%s: %s -> %s\n", ev.Type, ev.From, ev.To)
	}
}
