package models

import "time"

// AccessKey is the local record of a VPN credential
type AccessKey struct {
	ID         string     `json:"id"`
	Owner      Owner      `json:"owner"`
	Name       string     `json:"name"`
	AccessURL  string     `json:"access_url"`
	TrafficCap int64      `json:"traffic_cap"` // bytes, 0 = unlimited
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// HasCap reports whether a traffic cap is configured
func (k *AccessKey) HasCap() bool {
	return k.TrafficCap > 0
}

// Expired reports whether the payment expiry lies before now
func (k *AccessKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && k.ExpiresAt.Before(now)
}

// RemoteKey is a key as reported by the Outline server
type RemoteKey struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	AccessURL  string `json:"accessUrl"`
	Method     string `json:"method,omitempty"`
	Port       int    `json:"port,omitempty"`
	TrafficCap int64  `json:"-"` // bytes, 0 = no limit set
	CapUnknown bool   `json:"-"` // the server did not say whether a limit is set
	UsageBytes *int64 `json:"-"` // inline usage when the server reports it
}

// ServerInfo describes the Outline server
type ServerInfo struct {
	Name                  string `json:"name"`
	ServerID              string `json:"serverId"`
	Version               string `json:"version"`
	HostnameForAccessKeys string `json:"hostnameForAccessKeys"`
	PortForNewAccessKeys  int    `json:"portForNewAccessKeys"`
	MetricsEnabled        bool   `json:"metricsEnabled"`
	CreatedTimestampMs    int64  `json:"createdTimestampMs"`
	DefaultDataLimitBytes int64  `json:"-"`
}
