package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"wan-doctor/pkg/device"
)

// LocalPort implements the device command vocabulary with local Linux
// networking tools. It is the agent-side counterpart of the controller's
// WebSocket port: the engine speaks the same commands either way.
type LocalPort struct {
	resolver       *net.Resolver
	resolvConfPath string
	oplog          *OpLog
}

func NewLocalPort(oplog *OpLog) *LocalPort {
	return &LocalPort{
		resolver:       net.DefaultResolver,
		resolvConfPath: "/etc/resolv.conf",
		oplog:          oplog,
	}
}

func (p *LocalPort) ExecuteCommand(ctx context.Context, cmd device.Command) (*device.CommandResult, error) {
	switch cmd.Path {
	case "/interface":
		switch cmd.Action {
		case "print":
			return p.interfacePrint(ctx, cmd.Query)
		case "enable":
			return p.record(cmd, p.interfaceSet(ctx, cmd.Args["name"], true))
		case "disable":
			return p.record(cmd, p.interfaceSet(ctx, cmd.Args["name"], false))
		}
	case "/ip/route":
		switch cmd.Action {
		case "print":
			return p.routePrint(ctx)
		case "add":
			return p.record(cmd, p.routeAdd(ctx, cmd.Args["gateway"]))
		case "remove":
			return p.record(cmd, p.routeRemove(ctx))
		}
	case "/ip/dhcp-client":
		switch cmd.Action {
		case "print":
			// no portable lease query on a generic Linux CPE; detection falls
			// back to the static default route
			return &device.CommandResult{Success: true, Data: []map[string]string{}}, nil
		case "renew":
			return p.record(cmd, p.dhcpRenew(ctx, cmd.Args["interface"]))
		}
	case "/ping":
		if cmd.Action == "execute" {
			return p.ping(ctx, cmd.Args["address"], cmd.Args["count"])
		}
	case "/tool/dns-lookup":
		if cmd.Action == "execute" {
			return p.dnsLookup(ctx, cmd.Args["name"])
		}
	case "/ip/dns":
		switch cmd.Action {
		case "print":
			return p.dnsPrint()
		case "set":
			return p.record(cmd, p.dnsSet(cmd.Args["servers"]))
		}
	case "/ip/firewall/nat":
		switch cmd.Action {
		case "print":
			return p.natPrint(ctx)
		case "add", "enable":
			return p.record(cmd, p.natEnsure(ctx, cmd.Args["out-interface"]))
		case "remove", "disable":
			return p.record(cmd, p.natRemove(ctx, cmd.Args["out-interface"]))
		}
	}
	return &device.CommandResult{
		Success: false,
		Error:   fmt.Sprintf("unsupported command %s", cmd.String()),
	}, nil
}

// record writes the op log entry for a mutating command and passes its result
// through.
func (p *LocalPort) record(cmd device.Command, result *device.CommandResult) (*device.CommandResult, error) {
	if p.oplog != nil {
		p.oplog.Record(cmd.Path, cmd.Action, cmd.Args, result.Success, result.Error)
	}
	return result, nil
}

// --- interface ---

func (p *LocalPort) interfacePrint(ctx context.Context, query string) (*device.CommandResult, error) {
	name := queryValue(query, "name")
	if name == "" {
		return nil, fmt.Errorf("interface print requires a name query")
	}
	out, err := run(ctx, "ip", "-o", "link", "show", "dev", name)
	if err != nil {
		if strings.Contains(out, "does not exist") {
			return &device.CommandResult{Success: true, Data: []map[string]string{}}, nil
		}
		return nil, fmt.Errorf("ip link show %s: %v (%s)", name, err, strings.TrimSpace(out))
	}
	flags := linkFlags(out)
	return &device.CommandResult{
		Success: true,
		Data: []map[string]string{{
			"name":     name,
			"disabled": boolStr(!flags["UP"]),
			"running":  boolStr(flags["LOWER_UP"]),
		}},
	}, nil
}

func (p *LocalPort) interfaceSet(ctx context.Context, name string, up bool) *device.CommandResult {
	if name == "" {
		return failure("interface name required")
	}
	state := "up"
	if !up {
		state = "down"
	}
	if out, err := run(ctx, "ip", "link", "set", "dev", name, state); err != nil {
		return failure(fmt.Sprintf("ip link set %s %s: %v (%s)", name, state, err, strings.TrimSpace(out)))
	}
	return &device.CommandResult{Success: true}
}

// linkFlags parses the <FLAG,FLAG,...> set from ip -o link output.
func linkFlags(out string) map[string]bool {
	flags := map[string]bool{}
	start := strings.Index(out, "<")
	end := strings.Index(out, ">")
	if start < 0 || end < start {
		return flags
	}
	for _, f := range strings.Split(out[start+1:end], ",") {
		flags[f] = true
	}
	return flags
}

// --- routes ---

func (p *LocalPort) routePrint(ctx context.Context) (*device.CommandResult, error) {
	out, err := run(ctx, "ip", "route", "show", "default")
	if err != nil {
		return nil, fmt.Errorf("ip route show default: %v (%s)", err, strings.TrimSpace(out))
	}
	return &device.CommandResult{Success: true, Data: parseDefaultRoutes(out)}, nil
}

func parseDefaultRoutes(out string) []map[string]string {
	data := []map[string]string{}
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 || fields[0] != "default" {
			continue
		}
		entry := map[string]string{"dst-address": "0.0.0.0/0"}
		for i := 1; i+1 < len(fields); i++ {
			switch fields[i] {
			case "via":
				entry["gateway"] = fields[i+1]
			case "dev":
				entry["interface"] = fields[i+1]
			}
		}
		data = append(data, entry)
	}
	return data
}

func (p *LocalPort) routeAdd(ctx context.Context, gateway string) *device.CommandResult {
	if gateway == "" {
		return failure("gateway required")
	}
	if out, err := run(ctx, "ip", "route", "replace", "default", "via", gateway); err != nil {
		return failure(fmt.Sprintf("ip route replace default: %v (%s)", err, strings.TrimSpace(out)))
	}
	return &device.CommandResult{Success: true}
}

func (p *LocalPort) routeRemove(ctx context.Context) *device.CommandResult {
	if out, err := run(ctx, "ip", "route", "del", "default"); err != nil {
		return failure(fmt.Sprintf("ip route del default: %v (%s)", err, strings.TrimSpace(out)))
	}
	return &device.CommandResult{Success: true}
}

func (p *LocalPort) dhcpRenew(ctx context.Context, iface string) *device.CommandResult {
	if iface == "" {
		return failure("interface required")
	}
	if _, err := exec.LookPath("dhclient"); err != nil {
		return failure("dhclient not available on this device")
	}
	if out, err := run(ctx, "dhclient", "-1", iface); err != nil {
		return failure(fmt.Sprintf("dhclient %s: %v (%s)", iface, err, strings.TrimSpace(out)))
	}
	return &device.CommandResult{Success: true}
}

// --- ping ---

var (
	pingStatsRe = regexp.MustCompile(`(\d+) packets transmitted, (\d+) (?:packets )?received`)
	pingLossRe  = regexp.MustCompile(`([0-9.]+)% packet loss`)
	pingRttRe   = regexp.MustCompile(`= [0-9.]+/([0-9.]+)/`)
)

// ping shells out to the system ping. A probe where every packet is lost is a
// diagnostic result, not a transport error: ping exits non-zero on total loss
// but still prints statistics, and those are what we report.
func (p *LocalPort) ping(ctx context.Context, target, count string) (*device.CommandResult, error) {
	if target == "" {
		return nil, fmt.Errorf("ping requires an address")
	}
	if count == "" {
		count = "3"
	}
	out, err := run(ctx, "ping", "-c", count, "-W", "2", target)
	stats := pingStatsRe.FindStringSubmatch(out)
	if stats == nil {
		if err != nil {
			return nil, fmt.Errorf("ping %s: %v (%s)", target, err, strings.TrimSpace(out))
		}
		return nil, fmt.Errorf("ping %s: unparsable output", target)
	}
	entry := map[string]string{
		"sent":     stats[1],
		"received": stats[2],
	}
	if m := pingLossRe.FindStringSubmatch(out); len(m) == 2 {
		entry["packet-loss"] = m[1]
	}
	if m := pingRttRe.FindStringSubmatch(out); len(m) == 2 {
		entry["avg-rtt"] = m[1]
	}
	return &device.CommandResult{Success: true, Data: []map[string]string{entry}}, nil
}

// --- dns ---

func (p *LocalPort) dnsLookup(ctx context.Context, name string) (*device.CommandResult, error) {
	if name == "" {
		return nil, fmt.Errorf("dns-lookup requires a name")
	}
	addrs, err := p.resolver.LookupHost(ctx, name)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("dns lookup %s: %w", name, err)
		}
		return &device.CommandResult{Success: false, Error: err.Error()}, nil
	}
	if len(addrs) == 0 {
		return &device.CommandResult{Success: false, Error: "no addresses returned"}, nil
	}
	return &device.CommandResult{
		Success: true,
		Data:    []map[string]string{{"name": name, "address": addrs[0]}},
	}, nil
}

func isTimeout(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTimeout
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func (p *LocalPort) dnsPrint() (*device.CommandResult, error) {
	data, err := os.ReadFile(p.resolvConfPath)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p.resolvConfPath, err)
	}
	servers := parseNameservers(string(data))
	if len(servers) == 0 {
		return &device.CommandResult{Success: true, Data: []map[string]string{}}, nil
	}
	return &device.CommandResult{
		Success: true,
		Data:    []map[string]string{{"servers": strings.Join(servers, ",")}},
	}, nil
}

func (p *LocalPort) dnsSet(servers string) *device.CommandResult {
	if servers == "" {
		return failure("servers required")
	}
	var kept []string
	if data, err := os.ReadFile(p.resolvConfPath); err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			if strings.HasPrefix(strings.TrimSpace(line), "nameserver") || strings.TrimSpace(line) == "" {
				continue
			}
			kept = append(kept, line)
		}
	}
	var b strings.Builder
	for _, line := range kept {
		b.WriteString(line)
		b.WriteString("\n")
	}
	for _, s := range strings.Split(servers, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		b.WriteString("nameserver ")
		b.WriteString(s)
		b.WriteString("\n")
	}
	if err := os.WriteFile(p.resolvConfPath, []byte(b.String()), 0o644); err != nil {
		return failure(fmt.Sprintf("write %s: %v", p.resolvConfPath, err))
	}
	return &device.CommandResult{Success: true}
}

func parseNameservers(conf string) []string {
	var out []string
	for _, line := range strings.Split(conf, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 2 && fields[0] == "nameserver" {
			out = append(out, fields[1])
		}
	}
	return out
}

// --- nat ---

func (p *LocalPort) natPrint(ctx context.Context) (*device.CommandResult, error) {
	out, err := run(ctx, "iptables", "-t", "nat", "-S", "POSTROUTING")
	if err != nil {
		return nil, fmt.Errorf("iptables -t nat -S: %v (%s)", err, strings.TrimSpace(out))
	}
	data := []map[string]string{}
	for _, line := range strings.Split(out, "\n") {
		if !strings.Contains(line, "-j MASQUERADE") {
			continue
		}
		// iptables has no disabled state; present means active
		entry := map[string]string{"action": "masquerade", "disabled": "false"}
		fields := strings.Fields(line)
		for i := 0; i+1 < len(fields); i++ {
			if fields[i] == "-o" {
				entry["out-interface"] = fields[i+1]
			}
		}
		data = append(data, entry)
	}
	return &device.CommandResult{Success: true, Data: data}, nil
}

func (p *LocalPort) natEnsure(ctx context.Context, outIface string) *device.CommandResult {
	check := masqueradeArgs("-C", outIface)
	add := masqueradeArgs("-A", outIface)
	if _, err := run(ctx, "iptables", check...); err == nil {
		return &device.CommandResult{Success: true}
	}
	if out, err := run(ctx, "iptables", add...); err != nil {
		return failure(fmt.Sprintf("iptables %v: %v (%s)", add, err, strings.TrimSpace(out)))
	}
	return &device.CommandResult{Success: true}
}

func (p *LocalPort) natRemove(ctx context.Context, outIface string) *device.CommandResult {
	del := masqueradeArgs("-D", outIface)
	if out, err := run(ctx, "iptables", del...); err != nil {
		return failure(fmt.Sprintf("iptables %v: %v (%s)", del, err, strings.TrimSpace(out)))
	}
	return &device.CommandResult{Success: true}
}

func masqueradeArgs(op, outIface string) []string {
	args := []string{"-t", "nat", op, "POSTROUTING"}
	if outIface != "" {
		args = append(args, "-o", outIface)
	}
	return append(args, "-j", "MASQUERADE")
}

// --- helpers ---

func run(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	return string(out), err
}

func failure(msg string) *device.CommandResult {
	return &device.CommandResult{Success: false, Error: msg}
}

func boolStr(v bool) string {
	return strconv.FormatBool(v)
}

func queryValue(query, key string) string {
	query = strings.TrimPrefix(query, "where ")
	for _, clause := range strings.Fields(query) {
		if kv := strings.SplitN(clause, "=", 2); len(kv) == 2 && kv[0] == key {
			return kv[1]
		}
	}
	return ""
}
