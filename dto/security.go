package dto

// ==================== ADMIN REQUESTS ====================

type BanRequest struct {
	IP         string `json:"ip" validate:"required,ip" example:"203.0.113.10"`
	Reason     string `json:"reason" validate:"max=256" example:"manual ban"`
	TTLSeconds int    `json:"ttl_seconds" validate:"omitempty,min=1,max=86400" example:"60"`
}

func (r BanRequest) Validate() error {
	return GetValidator().Struct(r)
}

type UnbanBulkRequest struct {
	IPs []string `json:"ips" validate:"required,min=1,max=1000,dive,ip"`
}

func (r UnbanBulkRequest) Validate() error {
	return GetValidator().Struct(r)
}

// ==================== ADMIN RESPONSES ====================

type BanResponse struct {
	IP         string `json:"ip" example:"203.0.113.10"`
	Banned     bool   `json:"banned" example:"true"`
	TTLSeconds int64  `json:"ttl_seconds" example:"60"`
}

type UnbanResponse struct {
	IP      string `json:"ip" example:"203.0.113.10"`
	Removed bool   `json:"removed" example:"true"`
}

type UnbanBulkResponse struct {
	Removed map[string]bool `json:"removed"`
}

type BanTTLResponse struct {
	IP         string `json:"ip" example:"203.0.113.10"`
	Banned     bool   `json:"banned" example:"true"`
	TTLSeconds int64  `json:"ttl_seconds" example:"42"`
}

type BanEntry struct {
	IP         string `json:"ip" example:"203.0.113.10"`
	TTLSeconds int64  `json:"ttl_seconds" example:"42"`
}

type CurrentBansResponse struct {
	Count int        `json:"count" example:"2"`
	Bans  []BanEntry `json:"bans"`
}

type SuspectEntry struct {
	IP         string `json:"ip" example:"203.0.113.10"`
	Score      int64  `json:"score" example:"9"`
	TTLSeconds int64  `json:"ttl_seconds" example:"181"`
}

type TopSuspiciousResponse struct {
	Count    int            `json:"count" example:"1"`
	Suspects []SuspectEntry `json:"suspects"`
}

// ==================== OPS METRICS ====================

type MinuteMetrics struct {
	Minute   int64 `json:"minute" example:"29412345"`
	Requests int64 `json:"requests" example:"120"`
	Errors   int64 `json:"errors_5xx" example:"2"`
	Bans     int64 `json:"bans" example:"1"`
}

type MetricsSummaryResponse struct {
	Minutes []MinuteMetrics `json:"minutes"`
}
