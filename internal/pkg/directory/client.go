package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/anicoll/smart-canopy/internal/pkg/model"
	"github.com/anicoll/smart-canopy/internal/pkg/topics"
)

// DefaultMinutes is the history window used when none is given.
const DefaultMinutes = 1000

var ErrUnknownKind = errors.New("unknown telemetry kind")

// Kinds served by the history endpoint.
var Kinds = []string{"temperature", "humidity", "light", "rain", "servo"}

type DeviceDto struct {
	ID         string `json:"id"`
	DeviceKey  string `json:"deviceKey"`
	DeviceName string `json:"deviceName"`
	CreatedAt  string `json:"createdAt"`
	UpdatedAt  string `json:"updatedAt"`
}

type Point struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

type Client struct {
	baseURL  string
	endpoint string
	creds    *model.Credentials
	http     *http.Client
}

func WithHTTPClient(hc *http.Client) func(*Client) {
	return func(c *Client) {
		c.http = hc
	}
}

// WithBroker sets the endpoint and credentials attached to every fetched device.
func WithBroker(endpoint string, creds *model.Credentials) func(*Client) {
	return func(c *Client) {
		c.endpoint = endpoint
		c.creds = creds
	}
}

func NewClient(baseURL string, opts ...func(*Client)) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// FetchDevices lists the registered devices. Entries without a usable id are dropped.
func (c *Client) FetchDevices(ctx context.Context) ([]model.DeviceDescriptor, error) {
	var dtos []DeviceDto
	if err := c.get(ctx, "/devices", nil, &dtos); err != nil {
		return nil, fmt.Errorf("fetching devices: %w", err)
	}
	return Descriptors(dtos, c.endpoint, c.creds), nil
}

// Descriptors maps directory entries onto device descriptors. The device key
// is the topic id; the record id is only used when the key is missing.
func Descriptors(dtos []DeviceDto, endpoint string, creds *model.Credentials) []model.DeviceDescriptor {
	devices := lo.Map(dtos, func(d DeviceDto, _ int) model.DeviceDescriptor {
		id := strings.TrimSpace(d.DeviceKey)
		if id == "" {
			id = strings.TrimSpace(d.ID)
		}
		name := strings.TrimSpace(d.DeviceName)
		if name == "" {
			name = "unknown"
		}
		return model.DeviceDescriptor{ID: id, DisplayName: name, Endpoint: endpoint, Credentials: creds}
	})
	return lo.Filter(devices, func(d model.DeviceDescriptor, _ int) bool {
		return topics.Validate(d.ID) == nil
	})
}

// FetchTelemetry returns the history of one measurement for a device over the
// last minutes. A non-positive minutes uses DefaultMinutes.
func (c *Client) FetchTelemetry(ctx context.Context, kind, deviceKey string, minutes int) ([]Point, error) {
	if !lo.Contains(Kinds, kind) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if minutes <= 0 {
		minutes = DefaultMinutes
	}
	q := url.Values{}
	q.Set("deviceKey", deviceKey)
	q.Set("minutes", strconv.Itoa(minutes))

	var points []Point
	if err := c.get(ctx, "/telemetries/"+kind, q, &points); err != nil {
		return nil, fmt.Errorf("fetching %s telemetry: %w", kind, err)
	}
	if points == nil {
		points = []Point{}
	}
	return points, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
