package outline

import "github.com/Vafelkin/outline-tg-bot/src/models"

type dataLimit struct {
	Bytes int64 `json:"bytes"`
}

type usage struct {
	Bytes *int64 `json:"bytes"`
}

type accessKey struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Password   string     `json:"password,omitempty"`
	Port       int        `json:"port,omitempty"`
	Method     string     `json:"method,omitempty"`
	AccessURL  string     `json:"accessUrl"`
	DataLimit  *dataLimit `json:"dataLimit,omitempty"`
	UsageBytes *int64     `json:"usageBytes,omitempty"`
	Usage      *usage     `json:"usage,omitempty"`
}

func (k accessKey) toModel() models.RemoteKey {
	rk := models.RemoteKey{
		ID:        k.ID,
		Name:      k.Name,
		AccessURL: k.AccessURL,
		Method:    k.Method,
		Port:      k.Port,
	}
	if k.DataLimit != nil {
		rk.TrafficCap = k.DataLimit.Bytes
	}
	switch {
	case k.UsageBytes != nil:
		rk.UsageBytes = k.UsageBytes
	case k.Usage != nil && k.Usage.Bytes != nil:
		rk.UsageBytes = k.Usage.Bytes
	}
	return rk
}

type accessKeyList struct {
	AccessKeys []accessKey `json:"accessKeys"`
}

type transferMetrics struct {
	BytesTransferredByUserID map[string]int64 `json:"bytesTransferredByUserId"`
}

type serverInfo struct {
	models.ServerInfo
	AccessKeyDataLimit *dataLimit `json:"accessKeyDataLimit,omitempty"`
}

type nameRequest struct {
	Name string `json:"name"`
}

type limitRequest struct {
	Limit dataLimit `json:"limit"`
}
