package security

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
	"github.com/hitoshi/ltme/internal/model"
)

// RemoteImage は外部URLから取得した画像データ。
type RemoteImage struct {
	Data        []byte
	ContentType string
}

// ImageFetcher は外部URLの画像をSSRF対策付きで取得するインターフェース。
// 投稿作成時のURL指定による画像取り込みで使用される。
type ImageFetcher interface {
	// Fetch は画像を取得する。
	// 失敗時はSSRF_BLOCKED、INVALID_URL、FETCH_FAILED、IMAGE_TOO_LARGEのAPIErrorを返す。
	Fetch(ctx context.Context, rawURL string) (*RemoteImage, error)
}

// allowedSchemes は取り込みを許可するURLスキーム。
var allowedSchemes = []string{"http", "https"}

// blockedNetworks はDNS解決前の静的検証でブロックするネットワーク範囲。
// DNS再バインディングはsafeurlのDialer検証で防止される。
var blockedNetworks = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"0.0.0.0/8",
	"::1/128",
	"fe80::/10",
	"fc00::/7",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	networks := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in blockedNetworks: %s: %v", cidr, err))
		}
		networks = append(networks, network)
	}
	return networks
}

// ssrfImageFetcher はImageFetcherの実装。
type ssrfImageFetcher struct {
	client   *http.Client
	maxBytes int64
	validate func(rawURL string) error
}

// NewImageFetcher はSSRF防止機能付きのImageFetcherを生成する。
// safeurlによりプライベートIP、ループバック、リンクローカル、メタデータIPへの
// 接続がDialerレベルでブロックされる。
func NewImageFetcher(timeout time.Duration, maxBytes int64) *ssrfImageFetcher {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(80, 443).
		Build()

	return &ssrfImageFetcher{
		client:   safeurl.Client(config).Client,
		maxBytes: maxBytes,
		validate: ValidateURL,
	}
}

// Fetch は画像を取得する。
func (f *ssrfImageFetcher) Fetch(ctx context.Context, rawURL string) (*RemoteImage, error) {
	if err := f.validate(rawURL); err != nil {
		var blocked *blockedURLError
		if errors.As(err, &blocked) {
			return nil, model.NewSSRFBlockedError()
		}
		return nil, model.NewInvalidURLError(err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, model.NewInvalidURLError(err.Error())
	}
	req.Header.Set("Accept", "image/*")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, model.NewFetchFailedError(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, model.NewFetchFailedError(fmt.Sprintf("HTTP %d", resp.StatusCode))
	}
	if resp.ContentLength > f.maxBytes {
		return nil, model.NewImageTooLargeError(f.maxBytes)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, model.NewFetchFailedError(err.Error())
	}
	if int64(len(data)) > f.maxBytes {
		return nil, model.NewImageTooLargeError(f.maxBytes)
	}

	contentType := http.DetectContentType(data)
	if header := resp.Header.Get("Content-Type"); header != "" && strings.HasPrefix(contentType, "application/octet-stream") {
		contentType = header
	}

	return &RemoteImage{Data: data, ContentType: contentType}, nil
}

// blockedURLError はセキュリティポリシーでブロックされたURLを表す。
type blockedURLError struct {
	reason string
}

func (e *blockedURLError) Error() string {
	return e.reason
}

// ValidateURL はURLの安全性を事前に検証する。
// DNS解決を伴わない静的な検証であり、リクエスト送信前の事前チェックとして使用する。
func ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if !isAllowedScheme(scheme) {
		return fmt.Errorf("disallowed scheme: %s (allowed: %v)", scheme, allowedSchemes)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}

	if ip := net.ParseIP(host); ip != nil {
		for _, network := range blockedNetworks {
			if network.Contains(ip) {
				return &blockedURLError{reason: "blocked IP address: " + ip.String()}
			}
		}
		return nil
	}

	if strings.EqualFold(host, "localhost") || strings.HasSuffix(strings.ToLower(host), ".localhost") {
		return &blockedURLError{reason: "blocked host: " + host}
	}

	return nil
}

// isAllowedScheme はURLスキームが許可リストに含まれるかを検証する。
func isAllowedScheme(scheme string) bool {
	for _, allowed := range allowedSchemes {
		if strings.EqualFold(scheme, allowed) {
			return true
		}
	}
	return false
}

// compile-time interface check
var _ ImageFetcher = (*ssrfImageFetcher)(nil)
