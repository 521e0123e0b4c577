package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/websocket"

	"github.com/Adithya-Monish-Kumar-K/docstore/internal/rpcapi"
	"github.com/Adithya-Monish-Kumar-K/docstore/pkg/proto"
	"github.com/Adithya-Monish-Kumar-K/docstore/pkg/rpc"
)

type httpClient struct {
	base string
	hc   *http.Client
}

func newHTTPClient(g *globals) *httpClient {
	return &httpClient{
		base: strings.TrimRight(g.server, "/"),
		hc:   &http.Client{Timeout: g.timeout},
	}
}

// apiError is a non-2xx reply from the server.
type apiError struct {
	Status  int
	Message string
	Fields  map[string]string
}

func (e *apiError) Error() string {
	msg := fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
	for _, k := range slices.Sorted(maps.Keys(e.Fields)) {
		msg += fmt.Sprintf("; %s: %s", k, e.Fields[k])
	}
	return msg
}

func (c *httpClient) do(req *http.Request, out any) error {
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		var body struct {
			Error  string            `json:"error"`
			Fields map[string]string `json:"fields"`
		}
		json.NewDecoder(resp.Body).Decode(&body)
		if body.Error == "" {
			body.Error = http.StatusText(resp.StatusCode)
		}
		return &apiError{Status: resp.StatusCode, Message: body.Error, Fields: body.Fields}
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type uploadProgress struct {
	Chunk, Total int
	Sent, Size   int64
}

// uploadChunked sends path as numbered chunks of at most chunkSize bytes.
// An empty file is sent as a single empty chunk.
func (c *httpClient) uploadChunked(ctx context.Context, path, name string, chunkSize int64, progress func(uploadProgress)) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	size := info.Size()
	total := int((size + chunkSize - 1) / chunkSize)
	if total == 0 {
		total = 1
	}

	buf := make([]byte, chunkSize)
	var sent int64
	for i := 1; i <= total; i++ {
		n, err := io.ReadFull(f, buf)
		if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		var ack struct {
			Status string `json:"status"`
		}
		if err := c.sendChunk(ctx, name, i, total, buf[:n], &ack); err != nil {
			return fmt.Errorf("chunk %d/%d: %w", i, total, err)
		}
		sent += int64(n)
		if progress != nil {
			progress(uploadProgress{Chunk: i, Total: total, Sent: sent, Size: size})
		}
	}
	return nil
}

func (c *httpClient) sendChunk(ctx context.Context, name string, index, total int, payload []byte, out any) error {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	w.WriteField("fileName", name)
	w.WriteField("chunkNumber", strconv.Itoa(index))
	w.WriteField("totalChunks", strconv.Itoa(total))
	part, err := w.CreateFormFile("chunk", name)
	if err != nil {
		return err
	}
	part.Write(payload)
	if err := w.Close(); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/upload_chunk", &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return c.do(req, out)
}

// uploadSingle streams path as one multipart request.
func (c *httpClient) uploadSingle(ctx context.Context, path, name string) (proto.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return proto.Document{}, err
	}
	defer f.Close()

	pr, pw := io.Pipe()
	w := multipart.NewWriter(pw)
	go func() {
		part, err := w.CreateFormFile("file", name)
		if err == nil {
			_, err = io.Copy(part, f)
		}
		if err == nil {
			err = w.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/upload", pr)
	if err != nil {
		pr.Close()
		return proto.Document{}, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	var doc proto.Document
	err = c.do(req, &doc)
	pr.Close()
	return doc, err
}

func (c *httpClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func dialRPC(ctx context.Context, g *globals) (*rpc.Client, context.Context, context.CancelFunc, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	client, err := rpc.Dial(ctx, g.rpcAddr)
	if err != nil {
		cancel()
		return nil, nil, nil, err
	}
	return client, ctx, cancel, nil
}

func callRPC(ctx context.Context, g *globals, method string, params, result any) error {
	client, ctx, cancel, err := dialRPC(ctx, g)
	if err != nil {
		return err
	}
	defer cancel()
	defer client.Close()
	return client.Call(ctx, method, params, result)
}

func listDocuments(ctx context.Context, g *globals) ([]proto.Document, error) {
	if g.rpcAddr != "" {
		var resp proto.ListResponse
		err := callRPC(ctx, g, rpcapi.MethodList, &proto.ListRequest{}, &resp)
		return resp.Documents, err
	}
	var docs []proto.Document
	err := newHTTPClient(g).get(ctx, "/list", &docs)
	return docs, err
}

func statDocument(ctx context.Context, g *globals, name string) (proto.StatResponse, error) {
	var resp proto.StatResponse
	err := callRPC(ctx, g, rpcapi.MethodStat, &proto.StatRequest{FileName: name}, &resp)
	return resp, err
}

func deleteDocument(ctx context.Context, g *globals, name string) error {
	if g.rpcAddr != "" {
		return callRPC(ctx, g, rpcapi.MethodDelete, &proto.DeleteRequest{FileName: name}, nil)
	}
	c := newHTTPClient(g)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.base+"/delete?fileName="+url.QueryEscape(name), nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

func searchDocuments(ctx context.Context, g *globals, query string) ([]proto.FileMatch, error) {
	if g.rpcAddr != "" {
		var resp proto.SearchResponse
		err := callRPC(ctx, g, rpcapi.MethodSearch, &proto.SearchRequest{Query: query}, &resp)
		return resp.Results, err
	}
	var matches []proto.FileMatch
	err := newHTTPClient(g).get(ctx, "/search?query="+url.QueryEscape(query), &matches)
	return matches, err
}

// streamSearch runs a WebSocket search, redrawing a progress line as events
// arrive. Interrupting ctx closes the socket, which cancels the scan
// server-side.
func streamSearch(ctx context.Context, g *globals, query string, quiet bool) error {
	wsURL := "ws" + strings.TrimPrefix(strings.TrimRight(g.server, "/"), "http") + "/ws/search"
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", wsURL, err)
	}
	defer conn.Close()
	go func() {
		<-ctx.Done()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "interrupted"), time.Now().Add(time.Second))
		conn.Close()
	}()

	if err := conn.WriteJSON(proto.StreamRequest{Query: query}); err != nil {
		return err
	}

	start := time.Now()
	files, occurrences := 0, 0
	for {
		var ev proto.StreamEvent
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return err
		}
		switch ev.Type {
		case proto.EventProgress:
			fmt.Fprintf(g.out, "\r%5.1f%% %s / %s", ev.Percent,
				humanize.IBytes(uint64(ev.Scanned)), humanize.IBytes(uint64(ev.Total)))
		case proto.EventResult:
			files++
			if !quiet {
				fmt.Fprintf(g.out, "\r%s\n", ev.FileName)
			}
		case proto.EventOccurrence:
			occurrences++
			if !quiet && ev.Occurrence != nil {
				fmt.Fprintf(g.out, "\r  [%d:%d] %q\n", ev.Occurrence.Start, ev.Occurrence.End, ev.Occurrence.Context)
			}
		case proto.EventDone:
			fmt.Fprintf(g.out, "\n%s in %s (%s, session %s)\n", plural(occurrences, "occurrence"),
				plural(files, "file"), time.Since(start).Round(time.Millisecond), ev.SessionID)
		case proto.EventError:
			fmt.Fprintln(g.out)
			return fmt.Errorf("search failed: %s", ev.Message)
		}
	}
}

func baseName(path string) string {
	return filepath.Base(path)
}
