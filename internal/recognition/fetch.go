package recognition

import (
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"
)

// ErrImageURLRejected：图片地址协议非法，或指向回环/内网/链路本地地址，或不在允许的主机列表内
var ErrImageURLRejected = errors.New("image url rejected")

var errImageTooLarge = errors.New("image exceeds size limit")

// blockedIP：回环、内网、链路本地、未指定与组播地址不允许抓取
func blockedIP(ip net.IP) bool {
	return ip == nil ||
		ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsInterfaceLocalMulticast() ||
		ip.IsMulticast() ||
		ip.IsUnspecified()
}

// 文档注释：图片地址预检
// 背景：图片 URL 由调用方提交，服务端代为下载；接口层在就绪探测前先拦截明显非法的地址。
// 约束：仅允许 http/https；主机为 IP 字面量时按 blockedIP 判定；域名的实际解析结果由抓取客户端在拨号时再校验。
func CheckImageURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return ErrImageURLRejected
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ErrImageURLRejected
	}
	host := u.Hostname()
	if host == "" || strings.EqualFold(host, "localhost") {
		return ErrImageURLRejected
	}
	if ip := net.ParseIP(host); ip != nil && blockedIP(ip) {
		return ErrImageURLRejected
	}
	return nil
}

// 文档注释：图片抓取客户端
// 背景：拨号前校验解析后的目标地址，域名解析到内网或重定向到内网同样被拦截。
// 约束：不走环境代理，否则拨号校验的是代理地址。
func NewFetchClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	d := &net.Dialer{
		Timeout: 5 * time.Second,
		Control: func(network, address string, _ syscall.RawConn) error {
			host, _, err := net.SplitHostPort(address)
			if err != nil {
				return ErrImageURLRejected
			}
			if blockedIP(net.ParseIP(host)) {
				return ErrImageURLRejected
			}
			return nil
		},
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:               nil,
			DialContext:         d.DialContext,
			TLSHandshakeTimeout: 5 * time.Second,
			MaxIdleConns:        16,
		},
	}
}

// GatewayOption 配置 Gateway
type GatewayOption func(*Gateway)

// WithFetchClient 替换图片抓取客户端（默认 NewFetchClient）
func WithFetchClient(c *http.Client) GatewayOption {
	return func(g *Gateway) {
		if c != nil {
			g.fetcher = c
		}
	}
}

// WithFetchHosts 限定可抓取的图片主机；为空表示不限
func WithFetchHosts(hosts ...string) GatewayOption {
	return func(g *Gateway) {
		for _, h := range hosts {
			h = strings.ToLower(strings.TrimSpace(h))
			if h == "" {
				continue
			}
			if g.fetchHosts == nil {
				g.fetchHosts = make(map[string]struct{})
			}
			g.fetchHosts[h] = struct{}{}
		}
	}
}

func (g *Gateway) hostAllowed(u *url.URL) bool {
	if len(g.fetchHosts) == 0 {
		return true
	}
	_, ok := g.fetchHosts[strings.ToLower(u.Hostname())]
	return ok
}
