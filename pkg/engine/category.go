package engine

import "strings"

// Category is a coarse rule-category bucket. Different tools name the same
// underlying issue differently; the bucket is what makes their reports collide.
type Category string

const (
	CatSecrets            Category = "secrets"
	CatInjection          Category = "injection"
	CatCrypto             Category = "crypto"
	CatTLS                Category = "tls"
	CatDeserialization    Category = "deserialization"
	CatXSS                Category = "xss"
	CatPathTraversal      Category = "path-traversal"
	CatContainerPrivilege Category = "container-privilege"
	CatIaCMisconfig       Category = "iac-misconfig"
	CatDependency         Category = "dependency"
	CatNetworkExposure    Category = "network-exposure"
	CatWebMisconfig       Category = "web-misconfig"
	CatHardening          Category = "hardening"
	CatDebug              Category = "debug"
	CatGeneral            Category = "general"
)

// toolCategories gives tools whose whole output belongs to one bucket.
var toolCategories = map[string]Category{
	"gitleaks": CatSecrets,
	"nmap":     CatNetworkExposure,
	"lynis":    CatHardening,
}

// ruleCategories maps well-known rule ids (upper-cased) to buckets.
var ruleCategories = map[string]Category{
	// gosec
	"G101": CatSecrets, "G102": CatNetworkExposure, "G104": CatGeneral,
	"G201": CatInjection, "G202": CatInjection, "G204": CatInjection,
	"G304": CatPathTraversal, "G305": CatPathTraversal,
	"G401": CatCrypto, "G402": CatTLS, "G403": CatCrypto, "G404": CatCrypto,
	"G501": CatCrypto, "G505": CatCrypto,
	// bandit
	"B105": CatSecrets, "B106": CatSecrets, "B107": CatSecrets,
	"B201": CatDebug, "B301": CatDeserialization, "B303": CatCrypto, "B324": CatCrypto,
	"B501": CatTLS, "B506": CatDeserialization, "B602": CatInjection, "B608": CatInjection,
}

type keywordRule struct {
	words    []string
	category Category
}

// keywordRules are checked in order against the lower-cased rule id and message.
var keywordRules = []keywordRule{
	{[]string{"secret", "password", "api key", "apikey", "private key", "token", "credential"}, CatSecrets},
	{[]string{"insecureskipverify", "tls", "ssl", "certificate", "verify=false"}, CatTLS},
	{[]string{"md5", "sha1", "weak hash", "weak crypto", "cipher", "rc4", "des ", "insecure random"}, CatCrypto},
	{[]string{"yaml.load", "pickle", "deserializ", "marshal.load"}, CatDeserialization},
	{[]string{"sql", "injection", "command exec", "subprocess", "shell=true", "os/exec", "eval("}, CatInjection},
	{[]string{"xss", "cross-site", "cross site"}, CatXSS},
	{[]string{"traversal", "directory listing", "file inclusion"}, CatPathTraversal},
	{[]string{"privileged", "runasnonroot", "run as root", "user root", "capabilit", "allowprivilegeescalation"}, CatContainerPrivilege},
	{[]string{"debug"}, CatDebug},
	{[]string{"cve-", "ghsa-", "vulnerable package", "outdated"}, CatDependency},
	{[]string{"header", "x-frame-options", "cookie", "cors", "server banner"}, CatWebMisconfig},
	{[]string{"open port", "exposed", "0.0.0.0", "public access", "ingress"}, CatNetworkExposure},
}

// Categorize buckets a rule independently of the exact rule id wording.
func Categorize(tool, ruleID, message string) Category {
	if c, ok := toolCategories[strings.ToLower(tool)]; ok {
		return c
	}
	if c, ok := ruleCategories[strings.ToUpper(strings.TrimSpace(ruleID))]; ok {
		return c
	}
	haystack := strings.ToLower(ruleID + " " + message)
	for _, kr := range keywordRules {
		for _, w := range kr.words {
			if strings.Contains(haystack, w) {
				return kr.category
			}
		}
	}
	switch strings.ToLower(tool) {
	case "kics":
		return CatIaCMisconfig
	case "nikto":
		return CatWebMisconfig
	}
	return CatGeneral
}
