package troubleshoot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"wan-doctor/pkg/device"
	"wan-doctor/pkg/model"
)

const defaultDetectTimeout = 10 * time.Second

// Detector resolves the WAN interface, gateway and (best effort) ISP before
// the first diagnostic step runs. A missing default route is a hard failure:
// the run never starts without a usable network context.
type Detector struct {
	port    device.Port
	http    *http.Client
	timeout time.Duration
}

func NewDetector(port device.Port, cfg model.DiagConfig) *Detector {
	d := &Detector{
		port:    port,
		http:    &http.Client{Timeout: 5 * time.Second},
		timeout: defaultDetectTimeout,
	}
	if t, err := time.ParseDuration(cfg.DetectTimeout); err == nil && t > 0 {
		d.timeout = t
	}
	return d
}

// Detect resolves the full network context. ISP lookup failures are tolerated;
// interface/gateway failures are not.
func (d *Detector) Detect(ctx context.Context, deviceID string) (*model.NetworkConfig, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	wanInterface, err := d.DetectWanInterface(ctx)
	if err != nil {
		return nil, err
	}
	gateway, err := d.DetectGateway(ctx)
	if err != nil {
		return nil, err
	}

	cfg := &model.NetworkConfig{WanInterface: wanInterface, Gateway: gateway}
	if info, err := d.DetectISP(ctx, gateway); err == nil {
		cfg.ISPInfo = info
	}
	return cfg, nil
}

// DetectWanInterface reads the interface of the default route.
func (d *Detector) DetectWanInterface(ctx context.Context) (string, error) {
	result, err := d.port.ExecuteCommand(ctx, device.Command{
		Path:   "/ip/route",
		Action: "print",
		Query:  "where dst-address=0.0.0.0/0",
	})
	if err != nil {
		return "", fmt.Errorf("query routes: %w", err)
	}
	if len(result.Data) == 0 {
		return "", fmt.Errorf("no default route configured")
	}
	iface := result.Data[0]["interface"]
	if iface == "" {
		return "", fmt.Errorf("default route has no interface")
	}
	return iface, nil
}

// DetectGateway prefers a bound DHCP lease, then falls back to the static
// default route.
func (d *Detector) DetectGateway(ctx context.Context) (string, error) {
	result, err := d.port.ExecuteCommand(ctx, device.Command{
		Path:   "/ip/dhcp-client",
		Action: "print",
		Query:  "where status=bound",
	})
	if err == nil && len(result.Data) > 0 {
		if gw := result.Data[0]["gateway"]; gw != "" {
			return gw, nil
		}
	}

	result, err = d.port.ExecuteCommand(ctx, device.Command{
		Path:   "/ip/route",
		Action: "print",
		Query:  "where dst-address=0.0.0.0/0",
	})
	if err != nil {
		return "", fmt.Errorf("query routes: %w", err)
	}
	if len(result.Data) == 0 {
		return "", fmt.Errorf("no default route configured")
	}
	gw := result.Data[0]["gateway"]
	if gw == "" {
		return "", fmt.Errorf("no gateway in default route")
	}
	return gw, nil
}

// DetectISP resolves upstream provider info via ip-api.com and enriches it
// with known support contacts. Best effort only.
func (d *Detector) DetectISP(ctx context.Context, wanIP string) (*model.ISPInfo, error) {
	url := fmt.Sprintf("http://ip-api.com/json/%s?fields=isp,org", wanIP)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("isp lookup failed: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var data struct {
		ISP string `json:"isp"`
		Org string `json:"org"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, err
	}
	name := data.ISP
	if name == "" {
		name = data.Org
	}
	if name == "" {
		return nil, fmt.Errorf("no isp info found")
	}

	info := &model.ISPInfo{Name: name}
	normalized := normalizeISPName(name)
	for key, support := range ispSupportDB {
		if strings.Contains(normalized, key) {
			info.Phone = support.phone
			info.URL = support.url
			break
		}
	}
	return info, nil
}

// ispSupportDB maps normalized provider names to support contacts (US-centric).
var ispSupportDB = map[string]struct{ phone, url string }{
	"spectrum":    {phone: "1-833-267-6094", url: "https://www.spectrum.com/contact-us"},
	"comcast":     {phone: "1-800-934-6489", url: "https://www.xfinity.com/support"},
	"xfinity":     {phone: "1-800-934-6489", url: "https://www.xfinity.com/support"},
	"att":         {phone: "1-800-288-2020", url: "https://www.att.com/support/"},
	"verizon":     {phone: "1-800-837-4966", url: "https://www.verizon.com/support/"},
	"cox":         {phone: "1-800-234-3993", url: "https://www.cox.com/residential/support.html"},
	"centurylink": {phone: "1-800-244-1111", url: "https://www.centurylink.com/home/help.html"},
	"frontier":    {phone: "1-800-921-8101", url: "https://frontier.com/helpcenter"},
	"optimum":     {phone: "1-866-200-7273", url: "https://www.optimum.net/support/"},
}

var nonAlnumRe = regexp.MustCompile(`[^a-z0-9]`)

func normalizeISPName(name string) string {
	normalized := nonAlnumRe.ReplaceAllString(strings.ToLower(name), "")
	for _, suffix := range []string{"communications", "communication", "telecom", "corp", "inc", "llc", "ltd"} {
		normalized = strings.ReplaceAll(normalized, suffix, "")
	}
	return normalized
}
