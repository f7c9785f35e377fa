package normalizer

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/campusiq/opsgovernor/internal/schema"
	"github.com/campusiq/opsgovernor/models"
	"github.com/campusiq/opsgovernor/services"
)

const (
	baseConfidence    = 0.5
	entityConfidence  = 0.2
	verbConfidence    = 0.2
	detailConfidence  = 0.1
	maxConfidence     = 0.95
	ambiguityPenalty  = 0.3
	quotedPlaceholder = "\x01%d\x01"
)

var verbTable = []struct {
	op    models.OpKind
	words []string
}{
	{models.OpCreate, []string{"create", "add", "insert", "register", "new"}},
	{models.OpUpdate, []string{"update", "modify", "change", "set", "flag", "mark"}},
	{models.OpDelete, []string{"delete", "remove", "erase", "drop"}},
	{models.OpAnalyze, []string{"analyze", "analyse", "analysis", "count", "average", "avg", "sum", "total", "trend", "trends", "statistics", "stats", "how many"}},
	{models.OpRead, []string{"show", "list", "find", "get", "read", "display", "fetch"}},
}

const (
	valuePattern = `(\x01\d+\x01|\d{4}-\d{2}-\d{2}|-?\d+(?:\.\d+)?|[A-Za-z][A-Za-z0-9_.\-]*)`
	opPattern    = `(not equal to|no more than|not more than|no less than|not less than|no greater than|not greater than|not above|not over|not below|not under|of at least|of at most|equal to|equals|less than|greater than|more than|at least|at most|below|under|above|over|contains|containing|like|not|of|is|<=|>=|!=|<>|==|<|>|=)`
)

var (
	quotedRe = regexp.MustCompile(`"([^"]*)"|'([^']*)'`)
	dateRe   = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	numberRe = regexp.MustCompile(`^-?\d+(?:\.\d+)?$`)
	placeRe  = regexp.MustCompile(`^\x01(\d+)\x01$`)
	listSep  = regexp.MustCompile(`\s*(?:,|\bor\b|\band\b)\s*|\s+`)

	extraOperators = map[string]models.Operator{
		"of":               models.OpEq,
		"equal to":         models.OpEq,
		"not equal to":     models.OpNe,
		"containing":       models.OpContains,
		"of at least":      models.OpGte,
		"of at most":       models.OpLte,
		"no more than":     models.OpLte,
		"not more than":    models.OpLte,
		"no greater than":  models.OpLte,
		"not greater than": models.OpLte,
		"not above":        models.OpLte,
		"not over":         models.OpLte,
		"no less than":     models.OpGte,
		"not less than":    models.OpGte,
		"not below":        models.OpGte,
		"not under":        models.OpGte,
	}

	stopwords = map[string]bool{
		"a": true, "an": true, "and": true, "are": true, "as": true, "at": true, "by": true,
		"for": true, "from": true, "in": true, "is": true, "of": true, "on": true, "or": true,
		"than": true, "the": true, "to": true, "where": true, "who": true, "whose": true, "with": true,
	}
)

type entityMatcher struct {
	entity *schema.Entity
	re     *regexp.Regexp
}

type fieldMatcher struct {
	field   *schema.Field
	spell   string
	assign  *regexp.Regexp
	setTo   *regexp.Regexp
	inList  *regexp.Regexp
	compare *regexp.Regexp
	create  *regexp.Regexp
	flagAs  *regexp.Regexp
	bare    *regexp.Regexp
	between *regexp.Regexp
	mention *regexp.Regexp
}

// KeywordExtractor is the deterministic strategy: verbs, entity aliases,
// comparison words and literals recognised by regular expressions.
type KeywordExtractor struct {
	registry *schema.Registry
	verbs    map[models.OpKind]*regexp.Regexp
	entities []entityMatcher
	fields   map[string][]*fieldMatcher
}

// NewKeywordExtractor compiles the vocabulary of registry
func NewKeywordExtractor(registry *schema.Registry) *KeywordExtractor {
	k := &KeywordExtractor{
		registry: registry,
		verbs:    make(map[models.OpKind]*regexp.Regexp),
		fields:   make(map[string][]*fieldMatcher),
	}
	for _, v := range verbTable {
		k.verbs[v.op] = regexp.MustCompile(`(?i)\b(?:` + alternation(v.words) + `)\b`)
	}
	for _, e := range registry.Entities() {
		names := append([]string{e.Name, e.Name + "s"}, e.Aliases...)
		k.entities = append(k.entities, entityMatcher{
			entity: e,
			re:     regexp.MustCompile(`(?i)\b(?:` + alternation(names) + `)\b`),
		})
		k.fields[e.Name] = compileFields(e)
	}
	return k
}

// Name returns the strategy name
func (k *KeywordExtractor) Name() string {
	return "keyword"
}

// alternation quotes words longest first, letting underscores, spaces and
// hyphens stand for each other
func alternation(words []string) string {
	sorted := append([]string(nil), words...)
	sort.Slice(sorted, func(i, j int) bool { return len(sorted[i]) > len(sorted[j]) })
	parts := make([]string, len(sorted))
	for i, w := range sorted {
		parts[i] = spelling(w)
	}
	return strings.Join(parts, "|")
}

func spelling(name string) string {
	words := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return r == '_' || r == ' ' || r == '-'
	})
	for i, w := range words {
		words[i] = regexp.QuoteMeta(w)
	}
	return strings.Join(words, `[ _\-]?`)
}

func compileFields(e *schema.Entity) []*fieldMatcher {
	var out []*fieldMatcher
	add := func(f *schema.Field, name string) {
		sp := spelling(name)
		out = append(out, &fieldMatcher{
			field:   f,
			spell:   name,
			assign:  regexp.MustCompile(`(?i)\bset\s+(?:the\s+)?(?:` + sp + `)\s*(?:to|=|as|:)\s*` + valuePattern),
			setTo:   regexp.MustCompile(`(?i)\b(?:` + sp + `)\s+to\s+` + valuePattern),
			inList:  regexp.MustCompile(`(?i)\b(?:` + sp + `)\s+(?:is\s+)?(?:in|among)\s*[\(\[]([^\)\]]*)[\)\]]`),
			compare: regexp.MustCompile(`(?i)\b(?:` + sp + `)\s*(?:is\s+)?` + opPattern + `?\s*` + valuePattern),
			create:  regexp.MustCompile(`(?i)\b(?:` + sp + `)\s*(?:=|:|is|of|as|to)?\s*` + valuePattern),
			flagAs:  regexp.MustCompile(`(?i)\bas\s+(not\s+)?(?:` + sp + `)\b`),
			bare:    regexp.MustCompile(`(?i)\b(not\s+|non[ \-]?)?(?:` + sp + `)\b`),
			between: regexp.MustCompile(`(?i)\b(?:` + sp + `)\s*(?:is\s+)?between\s+` + valuePattern + `\s+and\s+` + valuePattern),
			mention: regexp.MustCompile(`(?i)\b(?:` + sp + `)\b`),
		})
	}
	for _, f := range e.Fields {
		add(f, f.Name)
		if f.References != "" && strings.HasSuffix(f.Name, "_id") {
			add(f, strings.TrimSuffix(f.Name, "_id"))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return len(out[i].spell) > len(out[j].spell) })
	return out
}

// parse state: the working text has matched spans blanked so each phrase is
// consumed once
type parse struct {
	text    string
	quoted  []string
	filters []models.RawFilter
	values  map[string]any
}

func (p *parse) consume(loc []int) {
	p.text = p.text[:loc[0]] + strings.Repeat(" ", loc[1]-loc[0]) + p.text[loc[1]:]
}

// Extract interprets text without any external call
func (k *KeywordExtractor) Extract(ctx context.Context, req ExtractRequest) (*models.RawIntent, error) {
	p := &parse{values: make(map[string]any)}
	p.text = quotedRe.ReplaceAllStringFunc(req.Text, func(m string) string {
		p.quoted = append(p.quoted, m[1:len(m)-1])
		return fmt.Sprintf(quotedPlaceholder, len(p.quoted)-1)
	})

	entity, loc := k.findEntity(p.text, req.Module)
	if entity == nil {
		return nil, services.NewDomainError(services.ErrorTypeParseFailure, "no known record type in command", nil).
			WithDetail("text", req.Text)
	}
	p.consume(loc)

	op, verbFound := k.findVerb(p.text)
	fields := k.fields[entity.Name]

	switch op {
	case models.OpCreate:
		for _, fm := range fields {
			k.collect(p, fm, fm.create, true)
		}
	case models.OpUpdate:
		for _, fm := range fields {
			k.collect(p, fm, fm.assign, true)
			k.collect(p, fm, fm.setTo, true)
		}
		for _, fm := range fields {
			if fm.field.Type == schema.TypeBool {
				if m := fm.flagAs.FindStringSubmatchIndex(p.text); m != nil {
					p.values[fm.field.Name] = m[2] < 0
					p.consume(m[:2])
				}
			}
		}
	}
	if op != models.OpCreate {
		for _, fm := range fields {
			k.collectList(p, fm)
			k.collectBetween(p, fm)
		}
		for _, fm := range fields {
			k.collect(p, fm, fm.compare, false)
		}
		for _, fm := range fields {
			if fm.field.Type == schema.TypeBool {
				if m := fm.bare.FindStringSubmatchIndex(p.text); m != nil {
					p.filters = append(p.filters, models.RawFilter{Field: fm.field.Name, Operator: string(models.OpEq), Value: m[2] < 0})
					p.consume(m[:2])
				}
			}
		}
	}

	raw := &models.RawIntent{
		Entity:    entity.Name,
		Operation: string(op),
		Filters:   p.filters,
		Values:    p.values,
		Source:    k.Name(),
	}
	confidence := baseConfidence + entityConfidence
	if verbFound {
		confidence += verbConfidence
	}
	if len(p.filters) > 0 || len(p.values) > 0 {
		confidence += detailConfidence
	}
	var questions []string
	if (op == models.OpUpdate || op == models.OpDelete) && len(p.filters) == 0 {
		confidence -= ambiguityPenalty
		questions = append(questions, fmt.Sprintf("Which %s records should be affected?", entity.Name))
	}
	if (op == models.OpCreate || op == models.OpUpdate) && len(p.values) == 0 {
		confidence -= ambiguityPenalty
		questions = append(questions, "Which values should be set?")
	}
	// a field still named in the text had a condition that could not be read
	if op != models.OpAnalyze {
		if fm := unconsumed(p, fields); fm != nil {
			confidence = 0
			questions = append(questions, fmt.Sprintf("What condition on %s did you mean? Give it as an exact value or range.", fm.field.Name))
		}
	}
	if !verbFound && len(p.filters) == 0 && len(p.values) == 0 {
		questions = append(questions, fmt.Sprintf("What should be done with %s records?", entity.Name))
	}
	raw.Confidence = math.Max(0, math.Min(maxConfidence, confidence))
	raw.Question = strings.Join(questions, " ")
	return raw, nil
}

func (k *KeywordExtractor) findEntity(text, module string) (*schema.Entity, []int) {
	allowed := make(map[string]bool)
	for _, e := range k.registry.ForModule(module) {
		allowed[e.Name] = true
	}

	var best *schema.Entity
	var bestLoc []int
	for _, m := range k.entities {
		if !allowed[m.entity.Name] {
			continue
		}
		loc := m.re.FindStringIndex(text)
		if loc == nil {
			continue
		}
		if best == nil || loc[0] < bestLoc[0] || (loc[0] == bestLoc[0] && loc[1] > bestLoc[1]) {
			best, bestLoc = m.entity, loc
		}
	}
	return best, bestLoc
}

// findVerb returns the operation of the earliest verb, READ when none
func (k *KeywordExtractor) findVerb(text string) (models.OpKind, bool) {
	op, at := models.OpRead, -1
	for _, v := range verbTable {
		loc := k.verbs[v.op].FindStringIndex(text)
		if loc != nil && (at < 0 || loc[0] < at) {
			op, at = v.op, loc[0]
		}
	}
	return op, at >= 0
}

// collect applies re repeatedly; assignments land in values, comparisons in
// filters. A match whose value does not fit the field is skipped.
func (k *KeywordExtractor) collect(p *parse, fm *fieldMatcher, re *regexp.Regexp, assign bool) {
	for offset := 0; offset < len(p.text); {
		m := re.FindStringSubmatchIndex(p.text[offset:])
		if m == nil {
			return
		}
		for i := range m {
			if m[i] >= 0 {
				m[i] += offset
			}
		}
		groups := len(m)/2 - 1
		value, ok := k.literal(p, p.text[m[2*groups]:m[2*groups+1]], fm.field)
		if !ok {
			offset = m[0] + 1
			continue
		}

		if assign {
			p.values[fm.field.Name] = value
		} else {
			op := models.OpEq
			if groups == 2 && m[2] >= 0 {
				word := strings.ToLower(strings.Join(strings.Fields(p.text[m[2]:m[3]]), " "))
				if parsed, ok := extraOperators[word]; ok {
					op = parsed
				} else if parsed, ok := models.ParseOperator(word); ok {
					op = parsed
				}
			}
			p.filters = append(p.filters, models.RawFilter{Field: fm.field.Name, Operator: string(op), Value: value})
		}
		p.consume(m[:2])
		offset = m[1]
	}
}

// collectBetween reads "field between a and b" as an inclusive range
func (k *KeywordExtractor) collectBetween(p *parse, fm *fieldMatcher) {
	for {
		m := fm.between.FindStringSubmatchIndex(p.text)
		if m == nil {
			return
		}
		low, okLow := k.literal(p, p.text[m[2]:m[3]], fm.field)
		high, okHigh := k.literal(p, p.text[m[4]:m[5]], fm.field)
		if !okLow || !okHigh {
			return
		}
		p.filters = append(p.filters,
			models.RawFilter{Field: fm.field.Name, Operator: string(models.OpGte), Value: low},
			models.RawFilter{Field: fm.field.Name, Operator: string(models.OpLte), Value: high})
		p.consume(m[:2])
	}
}

// unconsumed returns a field still mentioned after every phrase was read
func unconsumed(p *parse, fields []*fieldMatcher) *fieldMatcher {
	for _, fm := range fields {
		if fm.mention.MatchString(p.text) {
			return fm
		}
	}
	return nil
}

func (k *KeywordExtractor) collectList(p *parse, fm *fieldMatcher) {
	for {
		m := fm.inList.FindStringSubmatchIndex(p.text)
		if m == nil {
			return
		}
		var list []any
		for _, tok := range listSep.Split(strings.TrimSpace(p.text[m[2]:m[3]]), -1) {
			if tok == "" {
				continue
			}
			if v, ok := k.literal(p, tok, fm.field); ok {
				list = append(list, v)
			}
		}
		p.filters = append(p.filters, models.RawFilter{Field: fm.field.Name, Operator: string(models.OpIn), Value: list})
		p.consume(m[:2])
	}
}

// literal types a token by the field it is compared with. Quoted text is
// always a string, leaving type mismatches to registry validation.
func (k *KeywordExtractor) literal(p *parse, tok string, f *schema.Field) (any, bool) {
	if m := placeRe.FindStringSubmatch(tok); m != nil {
		i, _ := strconv.Atoi(m[1])
		return p.quoted[i], true
	}
	tok = strings.TrimRight(tok, ".,;:")
	lower := strings.ToLower(tok)

	switch f.Type {
	case schema.TypeBool:
		switch lower {
		case "true", "yes":
			return true, true
		case "false", "no":
			return false, true
		}
	case schema.TypeString:
		if tok != "" && !stopwords[lower] {
			return tok, true
		}
	case schema.TypeDate:
		if dateRe.MatchString(tok) {
			return tok, true
		}
	case schema.TypeInt, schema.TypeFloat:
		if !numberRe.MatchString(tok) {
			return nil, false
		}
		if strings.Contains(tok, ".") {
			v, err := strconv.ParseFloat(tok, 64)
			return v, err == nil
		}
		v, err := strconv.ParseInt(tok, 10, 64)
		return v, err == nil
	}
	return nil, false
}
