package tools

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	layoutInput = "2006-01-02T15:04"
	LayoutDB    = "2006-01-02 15:04:05"
)

// Prevent out-of-network requests to control endpoints
func CheckInNetwork(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			http.Error(w, "Invalid request", http.StatusBadRequest)
			return
		}
		parsedIP := net.ParseIP(ip)
		if parsedIP == nil {
			http.Error(w, "Invalid IP address", http.StatusBadRequest)
			return
		}
		if !isLocalAddress(parsedIP) {
			http.Error(w, "Access denied", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func isLocalAddress(ip net.IP) bool {
	privateBlocks := []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"fc00::/7",
	}
	for _, block := range privateBlocks {
		_, cidr, _ := net.ParseCIDR(block)
		if cidr.Contains(ip) {
			return true
		}
	}
	return ip.IsLoopback()
}

// ParseStartAndEndDate reads the start and end form values, given in loc, and
// formats them for comparison with the DB. A missing value selects the last
// eight hours.
func ParseStartAndEndDate(r *http.Request, loc *time.Location) (string, string) {
	r.ParseForm()
	startDate := r.FormValue("start")
	endDate := r.FormValue("end")
	if startDate == "" || endDate == "" {
		return time.Now().UTC().Add(-8 * time.Hour).Format(LayoutDB), time.Now().UTC().Format(LayoutDB)
	}
	if loc == nil {
		loc = time.UTC
	}

	t, err := time.ParseInLocation(layoutInput, startDate, loc)
	if err != nil {
		logrus.Warnf("Error parsing start date: %v", err)
	} else {
		startDate = t.UTC().Format(LayoutDB)
	}

	t, err = time.ParseInLocation(layoutInput, endDate, loc)
	if err != nil {
		logrus.Warnf("Error parsing end date: %v", err)
	} else {
		endDate = t.UTC().Format(LayoutDB)
	}
	return startDate, endDate
}

func StartAndEndDateToTime(startDate string, endDate string) (time.Time, time.Time, error) {
	start, err := time.Parse(LayoutDB, startDate)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := time.Parse(LayoutDB, endDate)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}

// FormUint16 parses a decimal or 0x-prefixed form value.
func FormUint16(r *http.Request, key string) (uint16, error) {
	value := r.FormValue(key)
	if value == "" {
		return 0, fmt.Errorf("missing %s", key)
	}
	v, err := strconv.ParseUint(value, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return uint16(v), nil
}

// FormByte parses a decimal or 0x-prefixed form value that fits a register.
func FormByte(r *http.Request, key string) (byte, error) {
	value := r.FormValue(key)
	if value == "" {
		return 0, fmt.Errorf("missing %s", key)
	}
	v, err := strconv.ParseUint(value, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return byte(v), nil
}
