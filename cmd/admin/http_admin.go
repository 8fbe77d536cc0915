package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

func stateCmd(args []string) {
	adminCall(args, "state", http.MethodGet, "/admin/v1/state", 5*time.Second)
}

// snapshotCmd asks a running server to write a snapshot now.
func snapshotCmd(args []string) {
	adminCall(args, "snapshot", http.MethodPost, "/admin/v1/snapshot", 10*time.Second)
}

func metricsCmd(args []string) {
	adminCall(args, "metrics", http.MethodGet, "/metrics", 5*time.Second)
}

func adminCall(args []string, name, method, path string, timeout time.Duration) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	body, status, err := doRequest(&http.Client{Timeout: timeout}, method, *baseURL, path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	fmt.Println(strings.TrimRight(string(body), "\n"))
	if status/100 != 2 {
		os.Exit(1)
	}
}

func doRequest(cl *http.Client, method, baseURL, path string) ([]byte, int, error) {
	u := strings.TrimRight(strings.TrimSpace(baseURL), "/") + path
	req, err := http.NewRequest(method, u, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := cl.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	return b, resp.StatusCode, err
}
