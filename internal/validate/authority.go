package validate

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/ppiankov/concordia/internal/model"
)

// AuthorityClassifier assigns a document type and authority level to a source
type AuthorityClassifier struct {
	config       *model.AuthorityConfig
	pathPatterns []*compiledPattern
}

type compiledPattern struct {
	pattern   *regexp.Regexp
	docType   model.DocumentType
	authority int
}

// Classification is what the classifier decided and why
type Classification struct {
	DocumentType   model.DocumentType `json:"document_type"`
	AuthorityLevel int                `json:"authority_level"`
	Reason         string             `json:"reason"`
}

// NewAuthorityClassifier creates a new authority classifier. Invalid patterns
// and unknown types are skipped.
func NewAuthorityClassifier(config *model.AuthorityConfig) *AuthorityClassifier {
	if config == nil {
		config = &model.DefaultConfig().Authority
	}

	classifier := &AuthorityClassifier{
		config:       config,
		pathPatterns: make([]*compiledPattern, 0, len(config.PathPatterns)),
	}

	for _, pathPattern := range config.PathPatterns {
		docType := model.DocumentType(strings.ToLower(pathPattern.Type))
		if !docType.Valid() {
			continue
		}
		if re, err := regexp.Compile(pathPattern.Pattern); err == nil {
			classifier.pathPatterns = append(classifier.pathPatterns, &compiledPattern{
				pattern:   re,
				docType:   docType,
				authority: pathPattern.Authority,
			})
		}
	}

	return classifier
}

// Classify decides type and authority for a source. Frontmatter wins over
// path patterns, which win over URL hosts; anything undecided falls back to
// guide at the default authority.
func (a *AuthorityClassifier) Classify(source string, frontmatter map[string]string) Classification {
	result := Classification{DocumentType: model.DocTypeGuide, AuthorityLevel: model.DefaultAuthority, Reason: "default"}
	typeDecided, levelDecided := false, false

	// Frontmatter
	for _, key := range []string{"document_type", "type"} {
		if t := model.DocumentType(strings.ToLower(strings.TrimSpace(frontmatter[key]))); t.Valid() {
			result.DocumentType = t
			result.Reason = "frontmatter " + key
			typeDecided = true
			break
		}
	}
	for _, key := range []string{"authority_level", "authority"} {
		if level, ok := parseLevel(frontmatter[key]); ok {
			result.AuthorityLevel = level
			result.Reason = "frontmatter " + key
			levelDecided = true
			break
		}
	}
	if strings.EqualFold(strings.TrimSpace(frontmatter["status"]), "archived") && !typeDecided {
		result.DocumentType = model.DocTypeArchive
		result.Reason = "frontmatter status"
		typeDecided = true
	}

	host, path := splitSource(source)

	// Path patterns
	if !typeDecided {
		for _, cp := range a.pathPatterns {
			if cp.pattern.MatchString(path) {
				result.DocumentType = cp.docType
				result.Reason = "path pattern " + cp.pattern.String()
				typeDecided = true
				if cp.authority > 0 && !levelDecided {
					if level, ok := clampLevel(cp.authority); ok {
						result.AuthorityLevel = level
						levelDecided = true
					}
				}
				break
			}
		}
	}

	// URL hosts
	if host != "" && !levelDecided {
		if level, ok := a.hostLevel(host); ok {
			result.AuthorityLevel = level
			result.Reason = "host " + host
			levelDecided = true
		}
	}

	if typeDecided && !levelDecided {
		if level, ok := clampLevel(a.config.TypeLevels[string(result.DocumentType)]); ok {
			result.AuthorityLevel = level
		}
	}

	return result
}

// hostLevel checks explicit host mappings, then well-known authoritative TLDs
func (a *AuthorityClassifier) hostLevel(host string) (int, bool) {
	if level, ok := a.config.HostLevels[host]; ok {
		return clampLevel(level)
	}
	for mapped, level := range a.config.HostLevels {
		if strings.HasSuffix(host, "."+mapped) {
			return clampLevel(level)
		}
	}

	if strings.HasSuffix(host, ".gov") || strings.HasSuffix(host, ".edu") || strings.HasSuffix(host, ".ac.uk") {
		return 8, true
	}
	return 0, false
}

// splitSource returns the host (empty for filesystem paths) and a slash path
func splitSource(source string) (string, string) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		parsed, err := url.Parse(source)
		if err != nil {
			return "", source
		}
		host := parsed.Host
		// Remove port from host
		if idx := strings.Index(host, ":"); idx > 0 {
			host = host[:idx]
		}
		return strings.ToLower(host), parsed.Path
	}
	return "", strings.ReplaceAll(source, "\\", "/")
}

func parseLevel(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return clampLevel(n)
}

// clampLevel rejects zero and clamps into the valid authority range
func clampLevel(n int) (int, bool) {
	if n <= 0 {
		return 0, false
	}
	if n > model.MaxAuthority {
		n = model.MaxAuthority
	}
	return n, true
}
