package client

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"runtime"
	"sort"
	"strconv"
	"time"

	"github.com/filecatalog/speedtest/pkg/speedtest"
	"github.com/filecatalog/speedtest/pkg/speedtest/model"
	"github.com/filecatalog/speedtest/pkg/speedtest/spec"
	"github.com/filecatalog/speedtest/pkg/version"
	"github.com/google/uuid"
)

const (
	// DefaultScheme is the default URL scheme for a new Client.
	DefaultScheme = "http"

	libraryName = "speedtest-client"
)

var (
	// ErrShortUpload is returned when the server reports receiving a
	// different number of bytes than the client sent.
	ErrShortUpload = errors.New("server received fewer bytes than sent")

	libraryVersion = version.Version
)

// StatusError is returned when the server answers with a non-2xx status.
type StatusError struct {
	Path string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d %s", e.Path, e.Code, http.StatusText(e.Code))
}

// Client runs speed-test measurements against a server.
type Client struct {
	// ClientName is the name of the client sent to the server as part of the user-agent.
	ClientName string
	// ClientVersion is the version of the client sent to the server as part of the user-agent.
	ClientVersion string

	config     Config
	httpClient *http.Client
	runner     *Runner
}

// makeUserAgent creates the user agent string.
func makeUserAgent(clientName, clientVersion string) string {
	return clientName + "/" + clientVersion + " " + libraryName + "/" + libraryVersion
}

// New returns a new Client with the provided client name, version and config.
// Zero values in config are replaced with defaults. It panics if clientName
// or clientVersion are empty.
func New(clientName, clientVersion string, config Config) *Client {
	if clientName == "" || clientVersion == "" {
		panic("client name and version must be non-empty")
	}
	if config.Scheme == "" {
		config.Scheme = DefaultScheme
	}
	if config.PingSamples <= 0 {
		config.PingSamples = spec.DefaultPingSamples
	}
	if config.DownloadSizeMB <= 0 {
		config.DownloadSizeMB = spec.DefaultDownloadSizeMB
	}
	if config.UploadSizeMB <= 0 {
		config.UploadSizeMB = spec.DefaultUploadSizeMB
	}
	if config.Emitter == nil {
		config.Emitter = Discard{}
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: config.NoVerify}
	// Compression would make the application byte counts meaningless.
	transport.DisableCompression = true

	c := &Client{
		ClientName:    clientName,
		ClientVersion: clientVersion,
		config:        config,
		httpClient:    &http.Client{Transport: transport},
	}
	c.runner = NewRunner(c, config.Emitter, config.PhaseTimeout)
	return c
}

// Run runs ping, download and upload in sequence. See Runner.Run.
func (c *Client) Run(ctx context.Context) (*Result, error) {
	return c.runner.Run(ctx)
}

// Active reports whether a run started with Run is in progress.
func (c *Client) Active() bool {
	return c.runner.Active()
}

// endpoint returns the URL for p with the given querystring. The
// measurement ID and client metadata are always added.
func (c *Client) endpoint(p string, q url.Values) *url.URL {
	if q == nil {
		q = url.Values{}
	}
	if c.config.MeasurementID != "" {
		q.Set("mid", c.config.MeasurementID)
	}
	q.Set("client_arch", runtime.GOARCH)
	q.Set("client_os", runtime.GOOS)
	q.Set("client_name", c.ClientName)
	q.Set("client_version", c.ClientVersion)
	return &url.URL{
		Scheme:   c.config.Scheme,
		Host:     c.config.Server,
		Path:     path.Join("/", c.config.BasePath, p),
		RawQuery: q.Encode(),
	}
}

func (c *Client) newRequest(ctx context.Context, method string, u *url.URL,
	body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", makeUserAgent(c.ClientName, c.ClientVersion))
	req.Header.Set("Cache-Control", "no-store")
	req.Header.Set("Pragma", "no-cache")
	return req, nil
}

func checkStatus(resp *http.Response, p string) error {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Path: p, Code: resp.StatusCode}
	}
	return nil
}

// Median returns the element at index floor(N/2) of the sorted samples.
// For an even number of samples this is the upper of the two middle values;
// they are not averaged. It returns 0 for an empty slice and does not
// modify samples.
func Median(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]float64{}, samples...)
	sort.Float64s(sorted)
	return sorted[len(sorted)/2]
}

// Ping measures the round-trip time of Config.PingSamples sequential
// requests to the ping endpoint and returns their median in milliseconds.
// Any failed round trip aborts the probe.
func (c *Client) Ping(ctx context.Context) (float64, error) {
	samples := make([]float64, 0, c.config.PingSamples)
	for i := 0; i < c.config.PingSamples; i++ {
		rtt, err := c.pingOnce(ctx)
		if err != nil {
			return 0, fmt.Errorf("ping sample %d: %w", i, err)
		}
		c.config.Emitter.OnPingSample(i, rtt)
		samples = append(samples, rtt)
	}
	return Median(samples), nil
}

// pingOnce performs one round trip and returns its duration in
// milliseconds, including reading the whole response body.
func (c *Client) pingOnce(ctx context.Context) (float64, error) {
	u := c.endpoint(spec.PingPath, url.Values{"rand": {uuid.NewString()}})
	req, err := c.newRequest(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, err
	}
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, spec.PingPath); err != nil {
		return 0, err
	}
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return 0, err
	}
	return float64(time.Since(start)) / float64(time.Millisecond), nil
}

// Download fetches Config.DownloadSizeMB from the bulk generator and
// returns the rate in Mbit/s. Progress is emitted for every fragment read;
// the rate is computed once, when the stream ends.
func (c *Client) Download(ctx context.Context) (float64, error) {
	sizeMB := c.config.DownloadSizeMB
	u := c.endpoint(spec.DownloadPath, url.Values{"sizeMb": {strconv.Itoa(sizeMB)}})
	req, err := c.newRequest(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, spec.DownloadPath); err != nil {
		return 0, err
	}

	// The server declares the exact (clamped) size up front.
	target := resp.ContentLength
	if target < 0 {
		target = spec.SizeBytes(float64(sizeMB))
	}
	tr := NewTransfer(spec.DirectionDownload, target, start)
	buf := make([]byte, spec.ChunkSize)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			tr.Add(int64(n))
			c.config.Emitter.OnProgress(tr.Progress(time.Now(), false))
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, err
		}
	}
	if !tr.Complete() {
		return 0, io.ErrUnexpectedEOF
	}
	return tr.Rate(time.Now())
}

// Upload sends Config.UploadSizeMB of zeros to the bulk sink and returns
// the rate in Mbit/s, computed from the total elapsed time once the server
// has acknowledged the whole payload.
func (c *Client) Upload(ctx context.Context) (float64, error) {
	total := int64(c.config.UploadSizeMB) * spec.MiB
	start := time.Now()
	tr := NewTransfer(spec.DirectionUpload, total, start)
	body := &progressReader{
		r: io.LimitReader(zeroReader{}, total),
		onRead: func(n int) {
			tr.Add(int64(n))
			c.config.Emitter.OnProgress(tr.Progress(time.Now(), true))
		},
	}

	req, err := c.newRequest(ctx, http.MethodPost, c.endpoint(spec.UploadPath, nil), body)
	if err != nil {
		return 0, err
	}
	req.ContentLength = total
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, spec.UploadPath); err != nil {
		return 0, err
	}
	var ur model.UploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&ur); err != nil {
		return 0, fmt.Errorf("invalid upload response: %w", err)
	}
	elapsed := time.Since(start)
	if ur.Received != total {
		return 0, fmt.Errorf("%w: sent %d, received %d", ErrShortUpload, total, ur.Received)
	}
	return speedtest.MbitPerSecond(total, elapsed)
}

// zeroReader is an endless source of zero bytes.
type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}

// progressReader calls onRead after every successful Read.
type progressReader struct {
	r      io.Reader
	onRead func(n int)
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.r.Read(p)
	if n > 0 {
		pr.onRead(n)
	}
	return n, err
}
