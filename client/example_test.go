package client_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adamwoolhether/fetch/client"
	"github.com/adamwoolhether/fetch/client/download"
)

func ExampleBuild() {
	c, err := client.Build(
		client.WithTimeout(10*time.Second),
		client.WithUserAgent("example/1.0"),
	)
	if err != nil {
		fmt.Println("error:", err)
		return
	}

	_ = c
	fmt.Println("client built")
	// Output: client built
}

func ExampleClient_Download() {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "hello.txt", time.Time{}, strings.NewReader("hello, world\n"))
	}))
	defer ts.Close()

	dir, err := os.MkdirTemp("", "fetch-example")
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	defer os.RemoveAll(dir)

	c, err := client.Build()
	if err != nil {
		fmt.Println("error:", err)
		return
	}

	req, err := client.NewDownloadRequest(ts.URL+"/hello.txt", filepath.Join(dir, "hello.txt"))
	if err != nil {
		fmt.Println("error:", err)
		return
	}

	res, err := c.Download(context.Background(), req)
	if err != nil {
		fmt.Println("error:", err)
		return
	}

	data, _ := os.ReadFile(res.Path)
	fmt.Printf("%d bytes: %s", res.Bytes, data)
	// Output: 13 bytes: hello, world
}

func ExampleClient_DownloadAsync() {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "data.bin", time.Time{}, strings.NewReader(strings.Repeat("x", 4096)))
	}))
	defer ts.Close()

	dir, err := os.MkdirTemp("", "fetch-example")
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	defer os.RemoveAll(dir)

	c, err := client.Build()
	if err != nil {
		fmt.Println("error:", err)
		return
	}

	var last download.TransferStatistics
	req, err := client.NewDownloadRequest(ts.URL, filepath.Join(dir, "data.bin"),
		download.WithReadBufferSize(1024),
		download.WithProgress(download.ProgressFunc(func(s download.TransferStatistics) { last = s })),
	)
	if err != nil {
		fmt.Println("error:", err)
		return
	}

	task, err := c.DownloadAsync(context.Background(), req)
	if err != nil {
		fmt.Println("error:", err)
		return
	}

	if _, err := task.Wait(); err != nil {
		fmt.Println("error:", err)
		return
	}

	fmt.Println(task.State(), task.BytesReceived(), last.Received, last.Expected)
	// Output: succeeded 4096 4096 4096
}
