package urlparse

import (
	"errors"
	"strconv"
	"strings"
)

var errIPv4 = errors.New("invalid ipv4 host")

// endsInNumber reports whether the last label of host (ignoring one
// trailing dot) is numeric, in which case browsers parse the whole host as
// an IPv4 address.
func endsInNumber(host string) bool {
	labels := strings.Split(host, ".")
	last := labels[len(labels)-1]
	if last == "" {
		if len(labels) == 1 {
			return false
		}
		last = labels[len(labels)-2]
	}
	if last == "" {
		return false
	}
	if strings.Trim(last, "0123456789") == "" {
		return true
	}
	_, err := ipv4Number(last)
	return err == nil
}

// canonicalIPv4 rewrites a numeric host into dotted-quad form. Each label
// may be decimal, 0x-prefixed hex or 0-prefixed octal, and the last label
// fills the remaining bytes, so "3232235777" and "0xc0.0250.1.1" both
// become "192.168.1.1".
func canonicalIPv4(host string) (string, error) {
	labels := strings.Split(host, ".")
	if labels[len(labels)-1] == "" && len(labels) > 1 {
		labels = labels[:len(labels)-1]
	}
	if len(labels) > 4 {
		return "", errIPv4
	}

	nums := make([]uint64, len(labels))
	for i, label := range labels {
		n, err := ipv4Number(label)
		if err != nil {
			return "", err
		}
		nums[i] = n
	}

	last := len(nums) - 1
	for _, n := range nums[:last] {
		if n > 255 {
			return "", errIPv4
		}
	}
	if nums[last] >= 1<<(8*(5-len(nums))) {
		return "", errIPv4
	}

	addr := nums[last]
	for i, n := range nums[:last] {
		addr += n << (8 * (3 - i))
	}

	return strconv.FormatUint(addr>>24, 10) + "." +
		strconv.FormatUint(addr>>16&0xff, 10) + "." +
		strconv.FormatUint(addr>>8&0xff, 10) + "." +
		strconv.FormatUint(addr&0xff, 10), nil
}

func ipv4Number(s string) (uint64, error) {
	if s == "" {
		return 0, errIPv4
	}

	base := 10
	switch {
	case len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X"):
		s, base = s[2:], 16
	case len(s) >= 2 && s[0] == '0':
		s, base = s[1:], 8
	}
	if s == "" {
		return 0, nil
	}

	n, err := strconv.ParseUint(s, base, 64)
	if err != nil {
		return 0, errIPv4
	}
	return n, nil
}
