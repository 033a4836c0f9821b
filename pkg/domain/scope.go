package domain

// Wildcard marks a scope field that matches any value.
const Wildcard = "*"

// Scope narrows where an exception applies: the (client, branch, product)
// attribute triple. Empty fields normalize to the wildcard and match all.
type Scope struct {
	Client  string `json:"client"`
	Branch  string `json:"branch"`
	Product string `json:"product"`
}

// Normalize replaces empty fields with the match-all wildcard.
func (s Scope) Normalize() Scope {
	if s.Client == "" {
		s.Client = Wildcard
	}
	if s.Branch == "" {
		s.Branch = Wildcard
	}
	if s.Product == "" {
		s.Product = Wildcard
	}
	return s
}

// Matches reports whether the scope applies to the given attributes. A field
// matches if it is the wildcard or equal to the attribute value. Matching is
// exact-string; pattern matching was considered and rejected to keep the
// resolution order total and auditable.
func (s Scope) Matches(attrs Scope) bool {
	return fieldMatches(s.Client, attrs.Client) &&
		fieldMatches(s.Branch, attrs.Branch) &&
		fieldMatches(s.Product, attrs.Product)
}

func fieldMatches(pattern, value string) bool {
	return pattern == Wildcard || pattern == value
}

// Specificity counts non-wildcard fields. More specific scopes win ties
// between exceptions of equal effect.
func (s Scope) Specificity() int {
	n := 0
	for _, f := range []string{s.Client, s.Branch, s.Product} {
		if f != Wildcard && f != "" {
			n++
		}
	}
	return n
}

// IsWildcard reports whether the scope matches everything.
func (s Scope) IsWildcard() bool {
	return s.Specificity() == 0
}
