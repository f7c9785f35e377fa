package prompt

import (
	"regexp"
	"sort"
)

// SecretType names a kind of credential found in text
type SecretType string

const (
	SecretTypeAWSKey      SecretType = "aws_access_key"
	SecretTypeGCPKey      SecretType = "gcp_api_key"
	SecretTypeGitHubToken SecretType = "github_token"
	SecretTypeStripeKey   SecretType = "stripe_key"
	SecretTypeOpenAIKey   SecretType = "openai_key"
	SecretTypeJWT         SecretType = "jwt"
	SecretTypePrivateKey  SecretType = "private_key"
	SecretTypePassword    SecretType = "password"
	SecretTypeBearer      SecretType = "bearer_token"
	SecretTypeDatabaseURL SecretType = "database_url"
)

// SecretDetection is one credential-shaped span of the text
type SecretDetection struct {
	Type     SecretType
	StartPos int
	EndPos   int
}

var secretPatterns = []struct {
	kind    SecretType
	pattern *regexp.Regexp
}{
	{SecretTypeAWSKey, regexp.MustCompile(`\b(AKIA|ASIA)[0-9A-Z]{16}\b`)},
	{SecretTypeGCPKey, regexp.MustCompile(`\bAIza[0-9A-Za-z_\-]{35}\b`)},
	{SecretTypeGitHubToken, regexp.MustCompile(`\bgh[pousr]_[0-9A-Za-z]{36}\b`)},
	{SecretTypeStripeKey, regexp.MustCompile(`\b(sk|rk)_live_[0-9A-Za-z]{24,}\b`)},
	{SecretTypeOpenAIKey, regexp.MustCompile(`\bsk-[0-9A-Za-z_\-]{32,}\b`)},
	{SecretTypeJWT, regexp.MustCompile(`\beyJ[0-9A-Za-z_\-]+\.eyJ[0-9A-Za-z_\-]+\.[0-9A-Za-z_\-]+`)},
	{SecretTypePrivateKey, regexp.MustCompile(`-----BEGIN (RSA |EC |OPENSSH |DSA )?PRIVATE KEY-----`)},
	{SecretTypePassword, regexp.MustCompile(`(?i)\b(password|passwd|pwd)\s*[:=]\s*\S{8,}`)},
	{SecretTypeBearer, regexp.MustCompile(`(?i)\b(bearer|token)\s*[:= ]\s*[0-9A-Za-z_\-\.]{20,}`)},
	{SecretTypeDatabaseURL, regexp.MustCompile(`(?i)\b(postgres(ql)?|mysql|mongodb(\+srv)?|redis)://[^\s:/@]+:[^\s@]+@`)},
}

// DetectSecrets returns every credential-shaped span, ordered by position
func DetectSecrets(text string) []SecretDetection {
	var found []SecretDetection
	for _, p := range secretPatterns {
		for _, loc := range p.pattern.FindAllStringIndex(text, -1) {
			found = append(found, SecretDetection{Type: p.kind, StartPos: loc[0], EndPos: loc[1]})
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].StartPos < found[j].StartPos })
	return found
}

// HasSecrets reports whether text carries anything that looks like a credential
func HasSecrets(text string) bool {
	for _, p := range secretPatterns {
		if p.pattern.MatchString(text) {
			return true
		}
	}
	return false
}
