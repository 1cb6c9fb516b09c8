package cloudflare

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return New(
		WithBaseURL(server.URL),
		WithHTTPClient(server.Client()),
		WithRetryInterval(time.Millisecond),
	)
}

func writeEnvelope(w http.ResponseWriter, result any) {
	data, _ := json.Marshal(result)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"errors":  []any{},
		"result":  json.RawMessage(data),
	})
}

func TestClient_ListZones(t *testing.T) {
	creds := Credentials{APIToken: "tok", AccountID: "acct"}

	t.Run("decodes zones and sends bearer token", func(t *testing.T) {
		var gotAuth string
		client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			writeEnvelope(w, []Zone{{ID: "z1", Name: "example.com", Status: "active"}})
		}))

		zones, err := client.ListZones(context.Background(), creds)
		require.NoError(t, err)
		require.Len(t, zones, 1)
		require.Equal(t, "example.com", zones[0].Name)
		require.Equal(t, "Bearer tok", gotAuth)
	})

	t.Run("follows pagination", func(t *testing.T) {
		client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			page := r.URL.Query().Get("page")
			result := []Zone{{ID: "z" + page}}
			data, _ := json.Marshal(result)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"success":     true,
				"result":      json.RawMessage(data),
				"result_info": map[string]int{"page": mustAtoi(page), "total_pages": 2},
			})
		}))

		zones, err := client.ListZones(context.Background(), creds)
		require.NoError(t, err)
		require.Len(t, zones, 2)
		require.Equal(t, "z1", zones[0].ID)
		require.Equal(t, "z2", zones[1].ID)
	})
}

func mustAtoi(s string) int {
	n := 0
	for _, c := range s {
		n = n*10 + int(c-'0')
	}
	return n
}

func TestClient_Retries(t *testing.T) {
	creds := Credentials{APIToken: "tok", AccountID: "acct"}

	t.Run("transient 5xx is retried then succeeds", func(t *testing.T) {
		var calls atomic.Int32
		client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			writeEnvelope(w, []Zone{{ID: "z1"}})
		}))

		zones, err := client.ListZones(context.Background(), creds)
		require.NoError(t, err)
		require.Len(t, zones, 1)
		require.Equal(t, int32(3), calls.Load())
	})

	t.Run("transient failure surfaces after retries exhausted", func(t *testing.T) {
		var calls atomic.Int32
		client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusServiceUnavailable)
		}))

		_, err := client.ListZones(context.Background(), creds)
		require.Error(t, err)

		var transient *TransientError
		require.ErrorAs(t, err, &transient)
		require.Equal(t, http.StatusServiceUnavailable, transient.StatusCode)
		require.Equal(t, int32(3), calls.Load())
	})

	t.Run("rate limit is treated as transient", func(t *testing.T) {
		var calls atomic.Int32
		client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			writeEnvelope(w, []Zone{})
		}))

		_, err := client.ListZones(context.Background(), creds)
		require.NoError(t, err)
		require.Equal(t, int32(2), calls.Load())
	})

	t.Run("permanent 4xx is not retried", func(t *testing.T) {
		var calls atomic.Int32
		client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusForbidden)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"success": false,
				"errors":  []map[string]any{{"code": 9109, "message": "Invalid access token"}},
			})
		}))

		_, err := client.ListZones(context.Background(), creds)
		require.Error(t, err)

		var permanent *PermanentError
		require.ErrorAs(t, err, &permanent)
		require.Equal(t, http.StatusForbidden, permanent.StatusCode)
		require.Equal(t, 9109, permanent.Code)
		require.Equal(t, int32(1), calls.Load())
	})
}

func TestClient_CreateTunnel(t *testing.T) {
	creds := Credentials{APIToken: "tok", AccountID: "acct"}

	t.Run("sends secret once and decodes remote id", func(t *testing.T) {
		var gotBody createTunnelParams
		client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/accounts/acct/cfd_tunnel", r.URL.Path)
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
			writeEnvelope(w, Tunnel{ID: "remote-1", Name: gotBody.Name})
		}))

		tunnel, err := client.CreateTunnel(context.Background(), creds, "home-server", "s3cret")
		require.NoError(t, err)
		require.Equal(t, "remote-1", tunnel.ID)
		require.Equal(t, "s3cret", gotBody.TunnelSecret)
	})

	t.Run("never retried even on transient failure", func(t *testing.T) {
		var calls atomic.Int32
		client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusBadGateway)
		}))

		_, err := client.CreateTunnel(context.Background(), creds, "home-server", "s3cret")
		require.Error(t, err)
		require.Equal(t, int32(1), calls.Load())
	})

	t.Run("empty name fails before the network", func(t *testing.T) {
		var calls atomic.Int32
		client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
		}))

		_, err := client.CreateTunnel(context.Background(), creds, "  ", "s3cret")
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		require.Zero(t, calls.Load())
	})
}

func TestClient_CreateRecord(t *testing.T) {
	creds := Credentials{APIToken: "tok", AccountID: "acct"}

	t.Run("invalid type fails before the network", func(t *testing.T) {
		var calls atomic.Int32
		client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
		}))

		_, err := client.CreateRecord(context.Background(), creds, "z1", RecordParams{
			Type: "BOGUS", Name: "www", Content: "1.2.3.4", TTL: 300,
		})
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		require.Zero(t, calls.Load())
	})

	t.Run("valid record round-trips", func(t *testing.T) {
		client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodPost, r.Method)
			require.Equal(t, "/zones/z1/dns_records", r.URL.Path)

			var params RecordParams
			require.NoError(t, json.NewDecoder(r.Body).Decode(&params))
			writeEnvelope(w, DNSRecord{ID: "r1", ZoneID: "z1", Type: params.Type, Name: params.Name, Content: params.Content, TTL: params.TTL})
		}))

		record, err := client.CreateRecord(context.Background(), creds, "z1", RecordParams{
			Type: "A", Name: "www.example.com", Content: "1.2.3.4", TTL: 300,
		})
		require.NoError(t, err)
		require.Equal(t, "r1", record.ID)
		require.Equal(t, "A", record.Type)
	})
}

func TestClient_PushTunnelConfiguration(t *testing.T) {
	creds := Credentials{APIToken: "tok", AccountID: "acct"}

	t.Run("pushes the whole document", func(t *testing.T) {
		var gotBody tunnelConfigResult
		client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodPut, r.Method)
			require.Equal(t, "/accounts/acct/cfd_tunnel/t1/configurations", r.URL.Path)
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
			writeEnvelope(w, gotBody)
		}))

		cfg := TunnelConfiguration{
			Ingress: []IngressRule{
				{Hostname: "app.example.com", Service: "http://localhost:8080"},
				{Service: "http_status:404"},
			},
			Networks: []string{"10.0.0.0/8"},
		}
		require.NoError(t, client.PushTunnelConfiguration(context.Background(), creds, "t1", cfg))
		require.Len(t, gotBody.Config.Ingress, 2)
		require.Equal(t, []string{"10.0.0.0/8"}, gotBody.Config.Networks)
	})

	t.Run("invalid CIDR fails before the network", func(t *testing.T) {
		var calls atomic.Int32
		client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
		}))

		err := client.PushTunnelConfiguration(context.Background(), creds, "t1", TunnelConfiguration{
			Networks: []string{"not-a-cidr"},
		})
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		require.Zero(t, calls.Load())
	})
}

func TestClient_DeleteTunnel(t *testing.T) {
	creds := Credentials{APIToken: "tok", AccountID: "acct"}

	t.Run("404 surfaces as not found", func(t *testing.T) {
		client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"success": false,
				"errors":  []map[string]any{{"code": 1003, "message": "tunnel not found"}},
			})
		}))

		err := client.DeleteTunnel(context.Background(), creds, "t1")
		require.Error(t, err)
		require.True(t, IsNotFound(err))
	})
}
