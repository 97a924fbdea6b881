package store

import (
	"encoding/json"
	"time"
)

// Metadata keys written by the connection tracker.
const (
	MetaConnectionType         = "connection_type"
	MetaDisconnectType         = "disconnect_type"
	MetaClientInfo             = "client_info"
	MetaIPAddress              = "ip_address"
	MetaLastHeartbeat          = "last_heartbeat"
	MetaFinalizedAt            = "finalized_at"
	MetaReconnection           = "reconnection_metadata"
	MetaFrequentDisconnections = "frequent_disconnections"
	MetaOutageSeconds          = "outage_seconds"
	MetaGraceSeconds           = "grace_period_seconds"
)

// Metadata is the open key/value bag of a connection record. Values survive a
// JSON round trip, so times are stored as RFC 3339 strings and numbers come
// back as float64.
type Metadata map[string]any

func (m Metadata) String(key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func (m Metadata) Bool(key string) bool {
	v, _ := m[key].(bool)
	return v
}

func (m Metadata) Float(key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

func (m Metadata) Time(key string) (time.Time, bool) {
	switch v := m[key].(type) {
	case time.Time:
		return v, true
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		return t, err == nil
	default:
		return time.Time{}, false
	}
}

func (m Metadata) SetTime(key string, t time.Time) {
	m[key] = t.UTC().Format(time.RFC3339Nano)
}

// Clone deep-copies m through its JSON form.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return Metadata{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return Metadata{}
	}
	out := Metadata{}
	_ = json.Unmarshal(b, &out)
	return out
}

func encodeMetadata(m Metadata) ([]byte, error) {
	if m == nil {
		m = Metadata{}
	}
	return json.Marshal(m)
}

func decodeMetadata(b []byte) (Metadata, error) {
	out := Metadata{}
	if len(b) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
