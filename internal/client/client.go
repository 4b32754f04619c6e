package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gwatts/rootcerts"
)

// NoCacheTransport wraps an http.RoundTripper and disables every cache layer
// between the client and the probe server.
type NoCacheTransport struct {
	Transport http.RoundTripper
	UserAgent string
}

func (t *NoCacheTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())

	if clone.Header.Get("User-Agent") == "" && t.UserAgent != "" {
		clone.Header.Set("User-Agent", t.UserAgent)
	}
	clone.Header.Set("Cache-Control", "no-cache, no-store")
	clone.Header.Set("Pragma", "no-cache")
	clone.Header.Set("Accept", "*/*")

	return t.Transport.RoundTrip(clone)
}

type Options struct {
	IPv4Only  bool
	IPv6Only  bool
	Interface string
	Insecure  bool
	// Timeout bounds a whole request; zero leaves requests unbounded.
	Timeout   time.Duration
	UserAgent string
}

func getLocalAddr(interfaceOrIP string, ipv4Only, ipv6Only bool) (net.Addr, error) {
	if interfaceOrIP == "" {
		return nil, nil
	}

	if ip := net.ParseIP(interfaceOrIP); ip != nil {
		isIPv4 := ip.To4() != nil
		if ipv4Only && !isIPv4 {
			return nil, fmt.Errorf("provided IP %s is not IPv4, but --ipv4 flag was specified", interfaceOrIP)
		}
		if ipv6Only && isIPv4 {
			return nil, fmt.Errorf("provided IP %s is not IPv6, but --ipv6 flag was specified", interfaceOrIP)
		}
		return &net.TCPAddr{IP: ip}, nil
	}

	iface, err := net.InterfaceByName(interfaceOrIP)
	if err != nil {
		return nil, fmt.Errorf("failed to find interface %q: %w", interfaceOrIP, err)
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return nil, fmt.Errorf("failed to get addresses for interface %q: %w", interfaceOrIP, err)
	}

	var selected net.IP
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		ip := ipNet.IP
		if ip.IsLoopback() || ip.IsUnspecified() {
			continue
		}
		isIPv4 := ip.To4() != nil
		if (ipv4Only && !isIPv4) || (ipv6Only && isIPv4) {
			continue
		}
		// Prefer global addresses over link-local ones.
		if !ip.IsLinkLocalUnicast() {
			selected = ip
			break
		}
		if selected == nil {
			selected = ip
		}
	}

	if selected == nil {
		family := "any"
		if ipv4Only {
			family = "IPv4"
		} else if ipv6Only {
			family = "IPv6"
		}
		return nil, fmt.Errorf("no suitable %s IP address found for interface %q", family, interfaceOrIP)
	}
	return &net.TCPAddr{IP: selected}, nil
}

// NewHTTPClient creates the client used for every probe request.
func NewHTTPClient(opts Options) (*http.Client, error) {
	if opts.IPv4Only && opts.IPv6Only {
		return nil, errors.New("IPv4-only and IPv6-only are mutually exclusive")
	}

	localAddr, err := getLocalAddr(opts.Interface, opts.IPv4Only, opts.IPv6Only)
	if err != nil {
		return nil, err
	}

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
		LocalAddr: localAddr,
	}

	tlsClientConfig := &tls.Config{InsecureSkipVerify: opts.Insecure}
	if !opts.Insecure {
		tlsClientConfig.RootCAs = rootcerts.ServerCertPool()
		if tlsClientConfig.RootCAs == nil {
			return nil, errors.New("unable to obtain a valid root CA pool")
		}
	}

	network := "tcp"
	switch {
	case opts.IPv4Only:
		network = "tcp4"
	case opts.IPv6Only:
		network = "tcp6"
	}
	if tcpAddr, ok := localAddr.(*net.TCPAddr); ok {
		if tcpAddr.IP.To4() != nil {
			network = "tcp4"
		} else {
			network = "tcp6"
		}
	}

	d := &hostDialer{dialer: dialer, network: network, resolve: resolveHost}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           d.DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		// Compressed transfers would distort the byte counts.
		DisableCompression: true,
		ForceAttemptHTTP2:  true,
		TLSClientConfig:    tlsClientConfig,
	}

	return &http.Client{
		Transport: &NoCacheTransport{Transport: transport, UserAgent: opts.UserAgent},
		Timeout:   opts.Timeout,
	}, nil
}

type resolveFunc func(ctx context.Context, host string, ipv4Only, ipv6Only bool) ([]net.IP, error)

// hostDialer resolves names itself so a broken system resolver can fall back
// to direct DNS queries.
type hostDialer struct {
	dialer  *net.Dialer
	network string
	resolve resolveFunc
}

func (d *hostDialer) DialContext(ctx context.Context, _, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid address format: %w", err)
	}

	if ip := net.ParseIP(host); ip != nil {
		if !d.allows(ip) {
			return nil, fmt.Errorf("target IP address %s does not match required network type %s", host, d.network)
		}
		return d.dialer.DialContext(ctx, networkFor(ip), net.JoinHostPort(host, port))
	}

	ips, err := d.resolve(ctx, host, d.network == "tcp4", d.network == "tcp6")
	if err != nil {
		return nil, fmt.Errorf("DNS resolution failed for %s: %w", host, err)
	}

	var firstErr error
	for _, ip := range ips {
		if !d.allows(ip) {
			continue
		}
		// A blackholed address must not stall the remaining candidates.
		dialCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		conn, err := d.dialer.DialContext(dialCtx, networkFor(ip), net.JoinHostPort(ip.String(), port))
		cancel()
		if err == nil {
			return conn, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	if firstErr == nil {
		return nil, fmt.Errorf("DNS resolution failed: no usable IPs returned for %s", host)
	}
	return nil, fmt.Errorf("connection failed to all resolved IPs for %s:%s (first error: %w)", host, port, firstErr)
}

func (d *hostDialer) allows(ip net.IP) bool {
	isIPv4 := ip.To4() != nil
	return !(d.network == "tcp4" && !isIPv4) && !(d.network == "tcp6" && isIPv4)
}

func networkFor(ip net.IP) string {
	if ip.To4() != nil {
		return "tcp4"
	}
	return "tcp6"
}
