package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/parkflow/internal/carpark"
)

const defaultAPIAddr = "localhost:8080"

// apiClient talks to a running parkflow API server.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(addr string) *apiClient {
	base := strings.TrimRight(addr, "/")
	if strings.HasPrefix(base, ":") {
		base = "localhost" + base
	}
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &apiClient{base: base, http: &http.Client{}}
}

// filterFlags are the filter parameters shared by select and watch.
type filterFlags struct {
	Name     string
	MinEmpty int
	Status   string
}

func (f *filterFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.Name, "name", "", "only this car park")
	cmd.Flags().IntVar(&f.MinEmpty, "min-empty", 0, "only car parks with at least this many free places")
	cmd.Flags().StringVar(&f.Status, "status", "", "only this status")
}

func (f filterFlags) values() url.Values {
	v := url.Values{}
	if f.Name != "" {
		v.Set("name", f.Name)
	}
	if f.MinEmpty > 0 {
		v.Set("min_empty", strconv.Itoa(f.MinEmpty))
	}
	if f.Status != "" {
		v.Set("status", f.Status)
	}
	return v
}

func (c *apiClient) get(ctx context.Context, path string, query url.Values, out any) error {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return carpark.NewNotFoundError(path)
	}
	if resp.StatusCode != http.StatusOK {
		var body struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return fmt.Errorf("request %s: status %d: %s", path, resp.StatusCode, body.Error)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// State fetches one car park.
func (c *apiClient) State(ctx context.Context, name string) (carpark.CarparkState, error) {
	var st carpark.CarparkState
	err := c.get(ctx, "/carparks/"+url.PathEscape(name), nil, &st)
	if carpark.IsNotFound(err) {
		return st, carpark.NewNotFoundError(name)
	}
	return st, err
}

// Select fetches a snapshot of matching states.
func (c *apiClient) Select(ctx context.Context, f filterFlags) ([]carpark.CarparkState, error) {
	var body struct {
		Carparks []carpark.CarparkState `json:"carparks"`
	}
	if err := c.get(ctx, "/carparks", f.values(), &body); err != nil {
		return nil, err
	}
	return body.Carparks, nil
}

// Stream calls fn for every row until ctx is cancelled, the server closes
// the stream or fn returns false.
func (c *apiClient) Stream(ctx context.Context, f filterFlags, from string, fn func(carpark.Row) bool) error {
	q := f.values()
	q.Set("replay", from)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/stream?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("open stream: status %d", resp.StatusCode)
	}

	lines := bufio.NewScanner(resp.Body)
	for lines.Scan() {
		var row carpark.Row
		if err := json.Unmarshal(lines.Bytes(), &row); err != nil {
			return fmt.Errorf("decode row: %w", err)
		}
		if !fn(row) {
			return nil
		}
	}
	if err := lines.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func requestTimeout(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, 30*time.Second)
}
