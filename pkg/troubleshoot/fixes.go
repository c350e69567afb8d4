package troubleshoot

import "wan-doctor/pkg/model"

// Fix commands may reference the detected network context through the
// placeholders {wan} and {gateway}; the applicator expands them before
// dispatch.

// FixRegistry maps issue codes to candidate remediations. It is built once and
// never mutated at run time.
var FixRegistry = map[string]model.FixSuggestion{
	"WAN_DISABLED": {
		IssueCode:            "WAN_DISABLED",
		Title:                "Enable WAN Interface",
		Explanation:          "The WAN interface is administratively disabled. Enabling it restores the uplink without changing any other configuration.",
		Command:              "/interface/enable name={wan}",
		RollbackCommand:      "/interface/disable name={wan}",
		Confidence:           model.FixConfidenceHigh,
		RequiresConfirmation: true,
	},
	"WAN_LINK_DOWN": {
		IssueCode:   "WAN_LINK_DOWN",
		Title:       "Check Physical Connection",
		Explanation: "The WAN interface is enabled but reports no carrier. This is almost always a cabling or modem problem that software cannot fix.",
		Confidence:  model.FixConfidenceHigh,
		IsManualFix: true,
		ManualSteps: []string{
			"Check that the WAN cable is firmly seated on both the device and the modem/ONT",
			"Verify the modem or ONT has power and its status LEDs look normal",
			"Try a different ethernet cable between the device and the modem",
			"If the link stays down after reseating, contact your ISP to check the line",
		},
	},
	"NO_DEFAULT_ROUTE": {
		IssueCode:            "NO_DEFAULT_ROUTE",
		Title:                "Add Default Route",
		Explanation:          "No default route is configured, so traffic has nowhere to go once it leaves the LAN. Adding one via the detected gateway restores forwarding.",
		Command:              "/ip/route/add dst-address=0.0.0.0/0 gateway={gateway}",
		RollbackCommand:      "/ip/route/remove dst-address=0.0.0.0/0",
		Confidence:           model.FixConfidenceMedium,
		RequiresConfirmation: true,
	},
	"GATEWAY_UNREACHABLE": {
		IssueCode:            "GATEWAY_UNREACHABLE",
		Title:                "Renew DHCP Lease",
		Explanation:          "The gateway does not answer pings. Renewing the DHCP lease on the WAN interface often recovers a stale or expired address assignment.",
		Command:              "/ip/dhcp-client/renew interface={wan}",
		Confidence:           model.FixConfidenceMedium,
		RequiresConfirmation: true,
	},
	"GATEWAY_TIMEOUT": {
		IssueCode:   "GATEWAY_TIMEOUT",
		Title:       "Restart Upstream Equipment",
		Explanation: "The gateway probe timed out entirely. The upstream modem or router is likely hung or unreachable.",
		Confidence:  model.FixConfidenceLow,
		IsManualFix: true,
		ManualSteps: []string{
			"Power-cycle the modem or upstream router and wait two minutes",
			"Check whether other devices behind the same uplink have connectivity",
			"Re-run the diagnostics once the upstream equipment has rebooted",
		},
	},
	"NO_INTERNET": {
		IssueCode:   "NO_INTERNET",
		Title:       "Contact Your ISP",
		Explanation: "The gateway is reachable but nothing beyond it answers. The outage is upstream of this device.",
		Confidence:  model.FixConfidenceLow,
		IsManualFix: true,
		ManualSteps: []string{
			"Check your ISP's status page or outage map for known incidents",
			"Power-cycle the modem in case the upstream session is stale",
			"If the outage persists, contact your ISP with the diagnostic details",
		},
	},
	"INTERNET_TIMEOUT": {
		IssueCode:   "INTERNET_TIMEOUT",
		Title:       "Check Upstream Connectivity",
		Explanation: "The internet probe timed out before completing. The uplink may be saturated or the upstream path unstable.",
		Confidence:  model.FixConfidenceLow,
		IsManualFix: true,
		ManualSteps: []string{
			"Check whether large transfers are saturating the uplink right now",
			"Power-cycle the modem and re-run the diagnostics",
			"If timeouts persist, contact your ISP about line quality",
		},
	},
	"DNS_FAILED": {
		IssueCode:            "DNS_FAILED",
		Title:                "Configure DNS Servers",
		Explanation:          "Name resolution fails although the internet is reachable. Pointing the device at public resolvers (8.8.8.8, 1.1.1.1) restores lookups; the previous server list is captured for rollback.",
		Command:              "/ip/dns/set servers=8.8.8.8,1.1.1.1",
		Confidence:           model.FixConfidenceHigh,
		RequiresConfirmation: true,
	},
	"DNS_TIMEOUT": {
		IssueCode:            "DNS_TIMEOUT",
		Title:                "Switch DNS Servers",
		Explanation:          "The configured resolver did not answer in time. Switching to public resolvers usually restores timely lookups; the previous server list is captured for rollback.",
		Command:              "/ip/dns/set servers=1.1.1.1,9.9.9.9",
		Confidence:           model.FixConfidenceMedium,
		RequiresConfirmation: true,
	},
	"NAT_MISSING": {
		IssueCode:            "NAT_MISSING",
		Title:                "Add NAT Masquerade Rule",
		Explanation:          "No source-NAT rule exists, so LAN clients cannot share the WAN address. Adding a masquerade rule on the WAN interface restores egress for the whole LAN.",
		Command:              "/ip/firewall/nat/add chain=srcnat out-interface={wan} action=masquerade",
		RollbackCommand:      "/ip/firewall/nat/remove chain=srcnat out-interface={wan} action=masquerade",
		Confidence:           model.FixConfidenceHigh,
		RequiresConfirmation: true,
	},
	"NAT_DISABLED": {
		IssueCode:            "NAT_DISABLED",
		Title:                "Enable NAT Masquerade Rule",
		Explanation:          "A masquerade rule exists but is disabled. Re-enabling it restores LAN egress without adding new rules.",
		Command:              "/ip/firewall/nat/enable chain=srcnat action=masquerade",
		RollbackCommand:      "/ip/firewall/nat/disable chain=srcnat action=masquerade",
		Confidence:           model.FixConfidenceHigh,
		RequiresConfirmation: true,
	},
}

// GetFix looks up the remediation for an issue code. Unknown or empty codes
// return nil: the step simply has no suggested fix.
func GetFix(issueCode string) *model.FixSuggestion {
	fix, ok := FixRegistry[issueCode]
	if !ok {
		return nil
	}
	return &fix
}
