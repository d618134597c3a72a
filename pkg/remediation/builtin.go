package remediation

import "github.com/user/gosec-agg/pkg/engine"

type builtinSpec struct {
	id, match, replace, description string
	category                        engine.Category
}

// builtinSpecs only cover fixes that are safe to apply mechanically. Findings
// such as pickle or eval usage have no entry and stay open.
var builtinSpecs = []builtinSpec{
	{
		id:          "go-tls-insecure-skip-verify",
		category:    engine.CatTLS,
		match:       `InsecureSkipVerify:(\s*)true`,
		replace:     `InsecureSkipVerify:${1}false`,
		description: "Re-enabled TLS certificate verification",
	},
	{
		id:          "python-requests-verify-disabled",
		category:    engine.CatTLS,
		match:       `\bverify\s*=\s*False\b`,
		replace:     `verify=True`,
		description: "Re-enabled TLS certificate verification for HTTP requests",
	},
	{
		id:          "container-privileged",
		category:    engine.CatContainerPrivilege,
		match:       `^(\s*-?\s*)privileged:(\s*)true\b`,
		replace:     `${1}privileged:${2}false`,
		description: "Disabled privileged container mode",
	},
	{
		id:          "container-privilege-escalation",
		category:    engine.CatContainerPrivilege,
		match:       `^(\s*-?\s*)allowPrivilegeEscalation:(\s*)true\b`,
		replace:     `${1}allowPrivilegeEscalation:${2}false`,
		description: "Disabled privilege escalation",
	},
	{
		id:          "python-weak-hash",
		category:    engine.CatCrypto,
		match:       `\bhashlib\.(md5|sha1)\(`,
		replace:     `hashlib.sha256(`,
		description: "Replaced weak hash function with SHA-256",
	},
	{
		id:          "python-yaml-unsafe-load",
		category:    engine.CatDeserialization,
		match:       `\byaml\.load\(([^,()]+)(?:,\s*Loader\s*=\s*yaml\.(?:Full|Unsafe)?Loader)?\)`,
		replace:     `yaml.safe_load($1)`,
		description: "Replaced yaml.load with yaml.safe_load",
	},
	{
		id:          "debug-mode-enabled",
		category:    engine.CatDebug,
		match:       `\b(debug|DEBUG)(\s*)=(\s*)True\b`,
		replace:     `${1}${2}=${3}False`,
		description: "Disabled debug mode",
	},
}

func builtins() []*LineStrategy {
	out := make([]*LineStrategy, 0, len(builtinSpecs))
	for _, b := range builtinSpecs {
		s, err := NewLineStrategy(b.id, b.category, b.match, b.replace, b.description, DefaultWindow)
		if err != nil {
			panic(err)
		}
		out = append(out, s)
	}
	return out
}
