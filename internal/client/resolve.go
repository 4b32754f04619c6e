package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"
)

var fallbackDNSServers = []string{
	"1.1.1.1:53",
	"8.8.8.8:53",
	"9.9.9.9:53",
	"[2606:4700:4700::1111]:53",
}

func resolveHost(ctx context.Context, host string, ipv4Only, ipv6Only bool) ([]net.IP, error) {
	var resolver net.Resolver
	addrs, sysErr := resolver.LookupIPAddr(ctx, host)
	if sysErr == nil {
		ips := filterIPs(addrsToIPs(addrs), ipv4Only, ipv6Only)
		if len(ips) > 0 {
			return ips, nil
		}
	}

	ips, dnsErr := lookupDirect(ctx, host, fallbackDNSServers, ipv4Only, ipv6Only)
	if dnsErr == nil {
		return ips, nil
	}
	if sysErr != nil {
		return nil, fmt.Errorf("system DNS failed: %w; direct DNS failed: %w", sysErr, dnsErr)
	}
	return nil, fmt.Errorf("direct DNS failed: %w", dnsErr)
}

// lookupDirect asks each server in turn until one returns a usable A/AAAA
// answer. A records are tried first unless ipv6Only is set.
func lookupDirect(ctx context.Context, host string, servers []string, ipv4Only, ipv6Only bool) ([]net.IP, error) {
	var queryTypes []uint16
	switch {
	case ipv4Only:
		queryTypes = []uint16{dns.TypeA}
	case ipv6Only:
		queryTypes = []uint16{dns.TypeAAAA}
	default:
		queryTypes = []uint16{dns.TypeA, dns.TypeAAAA}
	}

	c := &dns.Client{Net: "udp", Timeout: 3 * time.Second}
	var lastErr error

	for _, qtype := range queryTypes {
		m := new(dns.Msg)
		m.SetQuestion(dns.Fqdn(host), qtype)
		m.RecursionDesired = true

		for _, server := range servers {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			resp, _, err := c.ExchangeContext(ctx, m, server)
			if err != nil {
				lastErr = err
				continue
			}
			if resp.Rcode != dns.RcodeSuccess {
				lastErr = fmt.Errorf("%s answered %s", server, dns.RcodeToString[resp.Rcode])
				continue
			}
			if ips := filterIPs(answerIPs(resp), ipv4Only, ipv6Only); len(ips) > 0 {
				return ips, nil
			}
		}
	}

	if lastErr == nil {
		lastErr = errors.New("no usable IPs resolved via direct DNS")
	}
	return nil, lastErr
}

func answerIPs(resp *dns.Msg) []net.IP {
	var ips []net.IP
	for _, ans := range resp.Answer {
		switch a := ans.(type) {
		case *dns.A:
			ips = append(ips, a.A)
		case *dns.AAAA:
			ips = append(ips, a.AAAA)
		}
	}
	return ips
}

func addrsToIPs(addrs []net.IPAddr) []net.IP {
	ips := make([]net.IP, 0, len(addrs))
	for _, a := range addrs {
		ips = append(ips, a.IP)
	}
	return ips
}

func filterIPs(ips []net.IP, ipv4Only, ipv6Only bool) []net.IP {
	out := ips[:0:0]
	for _, ip := range ips {
		if ip.IsUnspecified() {
			continue
		}
		isIPv4 := ip.To4() != nil
		if (ipv4Only && !isIPv4) || (ipv6Only && isIPv4) {
			continue
		}
		out = append(out, ip)
	}
	return out
}
