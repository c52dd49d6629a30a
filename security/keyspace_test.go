package security

import "testing"

func TestKeyBuilders(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"ban", KeyBan("203.0.113.10"), "ban:ip:203.0.113.10"},
		{"ban notify", KeyBanNotify("203.0.113.10"), "ban:notify:203.0.113.10"},
		{"suspicious", KeySuspicious("203.0.113.10"), "sus:ip:203.0.113.10:5min"},
		{"metric requests", KeyMetricRequests(29412345), "metric:req:29412345"},
		{"metric errors", KeyMetricErrors(29412345), "metric:5xx:29412345"},
		{"metric bans", KeyMetricBans(29412345), "metric:bans:29412345"},
		{"rate limit", KeyRateLimit("203.0.113.10", "global"), "rl:global:203.0.113.10"},
		{"rate limit seq", KeyRateLimitSeq("203.0.113.10", "login"), "rl:login:203.0.113.10:seq"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestScanPatterns(t *testing.T) {
	if got := BanScanPattern(); got != "ban:ip:*" {
		t.Errorf("BanScanPattern() = %q, want %q", got, "ban:ip:*")
	}
	if got := SuspiciousScanPattern(); got != "sus:ip:*:5min" {
		t.Errorf("SuspiciousScanPattern() = %q, want %q", got, "sus:ip:*:5min")
	}
}

func TestIPFromBanKey(t *testing.T) {
	tests := []struct {
		key    string
		wantIP string
		wantOK bool
	}{
		{"ban:ip:203.0.113.10", "203.0.113.10", true},
		{"ban:ip:2001:db8::1", "2001:db8::1", true},
		{"ban:ip:", "", false},
		{"ban:notify:203.0.113.10", "", false},
		{"sus:ip:203.0.113.10:5min", "", false},
	}
	for _, tt := range tests {
		ip, ok := IPFromBanKey(tt.key)
		if ip != tt.wantIP || ok != tt.wantOK {
			t.Errorf("IPFromBanKey(%q) = (%q, %v), want (%q, %v)", tt.key, ip, ok, tt.wantIP, tt.wantOK)
		}
	}
}

func TestIPFromSuspiciousKey(t *testing.T) {
	tests := []struct {
		key    string
		wantIP string
		wantOK bool
	}{
		{"sus:ip:203.0.113.10:5min", "203.0.113.10", true},
		{"sus:ip::5min", "", false},
		{"sus:ip:203.0.113.10", "", false},
		{"ban:ip:203.0.113.10", "", false},
	}
	for _, tt := range tests {
		ip, ok := IPFromSuspiciousKey(tt.key)
		if ip != tt.wantIP || ok != tt.wantOK {
			t.Errorf("IPFromSuspiciousKey(%q) = (%q, %v), want (%q, %v)", tt.key, ip, ok, tt.wantIP, tt.wantOK)
		}
	}
}

func TestRoundTripThroughParsers(t *testing.T) {
	ip := "198.51.100.7"
	if got, ok := IPFromBanKey(KeyBan(ip)); !ok || got != ip {
		t.Errorf("ban round trip = (%q, %v), want (%q, true)", got, ok, ip)
	}
	if got, ok := IPFromSuspiciousKey(KeySuspicious(ip)); !ok || got != ip {
		t.Errorf("suspicious round trip = (%q, %v), want (%q, true)", got, ok, ip)
	}
}
