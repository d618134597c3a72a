package adapters

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/gosec-agg/pkg/engine"
)

func TestDefaultRegistry_Tools(t *testing.T) {
	r := DefaultRegistry()
	assert.Equal(t, []string{"bandit", "gitleaks", "gosec", "kics", "lynis", "nikto", "nmap", "semgrep", "trivy"}, r.Tools())

	a, ok := r.Lookup(" Semgrep ")
	require.True(t, ok)
	assert.Equal(t, "semgrep", a.Tool())

	_, _, err := r.Parse("unknown-tool", []byte("{}"))
	var pe *engine.ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "unknown-tool", pe.Tool)
}

func TestRegistry_ParseErrorOnBrokenEnvelope(t *testing.T) {
	r := DefaultRegistry()
	for _, tool := range []string{"trivy", "semgrep", "kics", "gosec", "bandit", "nikto", "nmap", "gitleaks"} {
		t.Run(tool, func(t *testing.T) {
			findings, _, err := r.Parse(tool, []byte(`{"truncated": [`))
			var pe *engine.ParseError
			require.True(t, errors.As(err, &pe), "got %v", err)
			assert.Equal(t, tool, pe.Tool)
			assert.Nil(t, findings)
		})
	}
}

func TestGitleaks(t *testing.T) {
	raw := `[
	  {"Description":"AWS Access Key","File":"./config/aws.go","StartLine":12,"Secret":"AKIAXXXX","RuleID":"aws-access-token","Match":"key=AKIAXXXX"},
	  {"Description":"broken","File":"x.go","StartLine":"twelve","RuleID":"generic"},
	  {"Description":"no file","RuleID":"generic"}
	]`
	findings, warnings, err := GitleaksAdapter{}.Parse([]byte(raw))
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "config/aws.go", findings[0].FilePath)
	assert.Equal(t, 12, findings[0].Line)
	assert.Equal(t, "SECRET", findings[0].RawSeverity)
	assert.NotContains(t, findings[0].Message, "AKIAXXXX")
	require.Len(t, warnings, 2)
	assert.Equal(t, 1, warnings[0].Index)
	assert.Equal(t, 2, warnings[1].Index)

	none, _, err := GitleaksAdapter{}.Parse([]byte("  \n"))
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestTrivy(t *testing.T) {
	raw := `{"Results":[{
	  "Target":"Dockerfile",
	  "Misconfigurations":[{"ID":"DS002","Title":"Image user should not be 'root'","Severity":"HIGH","CauseMetadata":{"StartLine":3}}],
	  "Vulnerabilities":[
	    {"VulnerabilityID":"CVE-2023-0464","PkgName":"openssl","InstalledVersion":"3.0.8","FixedVersion":"3.0.9","Severity":"UNKNOWN"},
	    {"PkgName":"zlib"}
	  ],
	  "Secrets":[{"RuleID":"github-pat","Title":"GitHub PAT","Severity":"CRITICAL","StartLine":9}]
	}]}`
	findings, warnings, err := TrivyAdapter{}.Parse([]byte(raw))
	require.NoError(t, err)
	require.Len(t, findings, 3)
	require.Len(t, warnings, 1)

	byRule := map[string]engine.RawFinding{}
	for _, f := range findings {
		byRule[f.RuleID] = f
	}
	assert.Equal(t, 3, byRule["DS002"].Line)
	assert.Equal(t, "Dockerfile", byRule["DS002"].FilePath)
	assert.Equal(t, "UNKNOWN", byRule["CVE-2023-0464"].RawSeverity)
	assert.Contains(t, byRule["CVE-2023-0464"].Message, "fixed in 3.0.9")
	assert.Equal(t, "openssl@3.0.8/CVE-2023-0464", byRule["CVE-2023-0464"].Resource)
	assert.Equal(t, 9, byRule["github-pat"].Line)
}

func TestSemgrep(t *testing.T) {
	raw := `{"results":[
	  {"check_id":"python.lang.security.audit.md5","path":"app/crypto.py","start":{"line":21},"extra":{"message":"MD5 is weak","severity":"WARNING"}},
	  {"check_id":"bad","path":"a.py","start":{"line":"x"}},
	  {"path":"b.py"}
	],"errors":[]}`
	findings, warnings, err := SemgrepAdapter{}.Parse([]byte(raw))
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, engine.RawFinding{
		Tool: "semgrep", RuleID: "python.lang.security.audit.md5", RawSeverity: "WARNING",
		FilePath: "app/crypto.py", Line: 21, Message: "MD5 is weak",
	}, findings[0])
	assert.Len(t, warnings, 2)
}

func TestKICS_LowerAndUpperEnvelope(t *testing.T) {
	lower := `{"queries":[{"query_name":"Privileged Container","query_id":"dd29336b","severity":"HIGH",
	  "files":[{"file_name":"../../scan/k8s/deploy.yaml","line":21},{"file_name":"k8s/job.yaml","line":4}]}]}`
	findings, warnings, err := KICSAdapter{}.Parse([]byte(lower))
	require.NoError(t, err)
	assert.Empty(t, warnings)
	require.Len(t, findings, 2)
	assert.Equal(t, "k8s/deploy.yaml", findings[0].FilePath)
	assert.Equal(t, 21, findings[0].Line)
	assert.Equal(t, "Privileged Container", findings[0].Message)

	upper := `{"Queries":[{"query_name":"Healthcheck Not Set","query_id":"b03a748a","severity":"MEDIUM","files":[{"file_name":"Dockerfile","line":1}]}]}`
	findings, _, err = KICSAdapter{}.Parse([]byte(upper))
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "b03a748a", findings[0].RuleID)
}

func TestGosec_StringAndRangeLines(t *testing.T) {
	raw := `{"Issues":[
	  {"severity":"HIGH","rule_id":"G402","details":"TLS InsecureSkipVerify set true.","file":"/repo/net/client.go","line":"42","cwe":{"id":"295"}},
	  {"severity":"MEDIUM","rule_id":"G304","details":"Potential file inclusion","file":"io.go","line":"10-12"},
	  {"severity":"LOW","rule_id":"G104","details":"Errors unhandled","file":"x.go","line":"abc"}
	],"Stats":{}}`
	findings, warnings, err := GosecAdapter{}.Parse([]byte(raw))
	require.NoError(t, err)
	require.Len(t, findings, 2)
	assert.Equal(t, 42, findings[0].Line)
	assert.Equal(t, "TLS InsecureSkipVerify set true. (CWE-295)", findings[0].Message)
	assert.Equal(t, 10, findings[1].Line)
	require.Len(t, warnings, 1)
	assert.Equal(t, 2, warnings[0].Index)
}

func TestBandit(t *testing.T) {
	raw := `{"errors":[],"results":[
	  {"test_id":"B303","test_name":"md5","issue_text":"Use of insecure MD2, MD4, MD5, or SHA1 hash function.","filename":"./app/crypto.py","line_number":22,"issue_severity":"MEDIUM"},
	  {"test_id":"B506","filename":"app/config.py","line_number":7,"issue_severity":"UNDEFINED","test_name":"yaml_load"}
	]}`
	findings, warnings, err := BanditAdapter{}.Parse([]byte(raw))
	require.NoError(t, err)
	assert.Empty(t, warnings)
	require.Len(t, findings, 2)
	assert.Equal(t, "app/crypto.py", findings[0].FilePath)
	assert.Equal(t, "yaml_load", findings[1].Message)
	assert.Equal(t, "UNDEFINED", findings[1].RawSeverity)
}

func TestNikto_JSON(t *testing.T) {
	raw := `{"host":"example.com","ip":"93.184.216.34","port":"443","vulnerabilities":[
	  {"id":"999957","msg":"The anti-clickjacking X-Frame-Options header is not present.","url":"/"},
	  {"id":"000001","url":"/admin"}
	]}`
	findings, warnings, err := NiktoAdapter{}.Parse([]byte(raw))
	require.NoError(t, err)
	require.Len(t, findings, 1)
	require.Len(t, warnings, 1)
	assert.Equal(t, "FINDING", findings[0].RawSeverity)
	assert.Equal(t, "example.com:443/#999957", findings[0].Resource)
}

func TestNikto_TextFallback(t *testing.T) {
	raw := `- Nikto v2.5.0
---------------------------------------------------------------------------
+ Target IP:          127.0.0.1
+ Target Hostname:    localhost
+ Target Port:        8080
+ Start Time:         2026-01-01 10:00:00 (GMT0)
---------------------------------------------------------------------------
+ Server: Apache/2.4.57
+ /: The X-Content-Type-Options header is not set.
+ OSVDB-3092: /admin/: This might be interesting.
+ 1 host(s) tested
`
	findings, warnings, err := NiktoAdapter{}.Parse([]byte(raw))
	require.NoError(t, err)
	assert.Empty(t, warnings)
	require.Len(t, findings, 2)
	assert.Contains(t, findings[0].RuleID, "nikto-")
	assert.Equal(t, "OSVDB-3092", findings[1].RuleID)
	assert.Equal(t, "/admin/: This might be interesting.", findings[1].Message)
	assert.Contains(t, findings[1].Resource, "localhost:8080#")
}

func TestLynis(t *testing.T) {
	raw := `# Lynis Report
report_version_major=1
warning[]=SSH-7408|Root login over SSH is permitted|PermitRootLogin=yes|-|
suggestion[]=AUTH-9286|Configure minimum password age in /etc/login.defs|-|-|
suggestion[]=|broken|
hostname=web-01
`
	findings, warnings, err := LynisAdapter{}.Parse([]byte(raw))
	require.NoError(t, err)
	require.Len(t, findings, 2)
	require.Len(t, warnings, 1)
	assert.Equal(t, "WARNING", findings[0].RawSeverity)
	assert.Equal(t, "SSH-7408", findings[0].RuleID)
	assert.Equal(t, "Root login over SSH is permitted (PermitRootLogin=yes)", findings[0].Message)
	assert.Equal(t, "web-01/SSH-7408", findings[0].Resource)
	assert.Equal(t, "SUGGESTION", findings[1].RawSeverity)
}

func TestNmap(t *testing.T) {
	raw := `<?xml version="1.0"?>
<nmaprun>
  <host>
    <address addr="10.0.0.5" addrtype="ipv4"/>
    <ports>
      <port protocol="tcp" portid="22"><state state="open"/><service name="ssh"/></port>
      <port protocol="tcp" portid="443"><state state="open"/><service name="https"/></port>
      <port protocol="tcp" portid="8080"><state state="open"/></port>
      <port protocol="tcp" portid="25"><state state="closed"/></port>
    </ports>
  </host>
  <host><ports/></host>
</nmaprun>`
	findings, warnings, err := NmapAdapter{}.Parse([]byte(raw))
	require.NoError(t, err)
	require.Len(t, findings, 3)
	require.Len(t, warnings, 1)
	assert.Equal(t, "HIGH", findings[0].RawSeverity)
	assert.Equal(t, "LOW", findings[1].RawSeverity)
	assert.Equal(t, "MEDIUM", findings[2].RawSeverity)
	assert.Equal(t, "10.0.0.5:22/tcp", findings[0].Resource)
	assert.Contains(t, findings[2].Message, "Service: unknown")
}
