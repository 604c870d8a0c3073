package login

import (
	"net/url"
	"strings"
)

// PageURL 页面地址的 host 和 path，均为小写。
// 不保留 query：Google 的 continue=/followup= 里常带着 myaccount 等其他站点地址。
type PageURL struct {
	Host string
	Path string
}

func ParseURL(raw string) PageURL {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return PageURL{}
	}
	return PageURL{Host: strings.ToLower(u.Hostname()), Path: strings.ToLower(u.Path)}
}

// OnHost host 相同或为其子域名。
func (u PageURL) OnHost(host string) bool {
	return u.Host == host || strings.HasSuffix(u.Host, "."+host)
}

// PathHas path 包含任一片段。
func (u PageURL) PathHas(parts ...string) bool {
	for _, part := range parts {
		if strings.Contains(u.Path, part) {
			return true
		}
	}
	return false
}
