package catalog

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"tdx-datafeed/internal/domain"
)

// tupleLiteral matches ("1.2.3.4", 7709) style entries embedded in arbitrary
// surrounding text, as published in source-code-literal host lists.
var tupleLiteral = regexp.MustCompile(`\(\s*"((?:\d{1,3}\.){3}\d{1,3})"\s*,\s*(\d{1,5})\s*\)`)

// ParseEndpoints extracts endpoints from a remote host-list payload. Three
// shapes are tolerated: a JSON array of {host|ip, port} objects, a JSON array
// of [host, port] tuples, and source-code tuple literals found anywhere in
// the text. Entries with invalid addresses are dropped.
func ParseEndpoints(data []byte) []domain.Endpoint {
	if eps := parseJSONObjects(data); len(eps) > 0 {
		return eps
	}
	if eps := parseJSONTuples(data); len(eps) > 0 {
		return eps
	}
	return parseTupleLiterals(data)
}

func parseJSONObjects(data []byte) []domain.Endpoint {
	var entries []struct {
		Host string      `json:"host"`
		IP   string      `json:"ip"`
		Port json.Number `json:"port"`
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil
	}

	var out []domain.Endpoint
	for _, e := range entries {
		host := e.Host
		if host == "" {
			host = e.IP
		}
		port, err := strconv.Atoi(e.Port.String())
		if err != nil {
			continue
		}
		if ValidIPv4(host) && port > 0 && port <= 65535 {
			out = append(out, domain.Endpoint{Host: host, Port: port})
		}
	}
	return out
}

func parseJSONTuples(data []byte) []domain.Endpoint {
	var entries [][]json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil
	}

	var out []domain.Endpoint
	for _, e := range entries {
		if len(e) < 2 {
			continue
		}
		var host string
		if err := json.Unmarshal(e[0], &host); err != nil {
			continue
		}
		var port int
		if err := json.Unmarshal(e[1], &port); err != nil {
			// Tolerate the port as a string.
			var s string
			if err := json.Unmarshal(e[1], &s); err != nil {
				continue
			}
			p, err := strconv.Atoi(s)
			if err != nil {
				continue
			}
			port = p
		}
		if ValidIPv4(host) && port > 0 && port <= 65535 {
			out = append(out, domain.Endpoint{Host: host, Port: port})
		}
	}
	return out
}

func parseTupleLiterals(data []byte) []domain.Endpoint {
	var out []domain.Endpoint
	for _, m := range tupleLiteral.FindAllStringSubmatch(string(data), -1) {
		port, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		if ValidIPv4(m[1]) && port > 0 && port <= 65535 {
			out = append(out, domain.Endpoint{Host: m[1], Port: port})
		}
	}
	return out
}

// ValidIPv4 reports whether host is a syntactically correct dotted-quad IPv4
// address. The all-zero and broadcast addresses are rejected.
func ValidIPv4(host string) bool {
	if host == "0.0.0.0" || host == "255.255.255.255" {
		return false
	}
	parts := strings.Split(host, ".")
	if len(parts) != 4 {
		return false
	}
	for _, p := range parts {
		if p == "" || len(p) > 3 {
			return false
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 255 {
			return false
		}
		// Reject non-canonical forms like "01".
		if strconv.Itoa(n) != p {
			return false
		}
	}
	return true
}
