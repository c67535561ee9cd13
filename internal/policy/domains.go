package policy

// DomainMap maps an intermediate domain tag (see resolveDomain) to the
// policy it is governed by. Missing domains fall back to PUBLIC. Carried
// from the original security/policies/domains.py table unchanged.
var DomainMap = map[string]Tag{
	"health": INTERNAL,

	"auth":          AUTH,
	"auth.register": REGISTRATION,
	"auth.otp":      OTP,

	"users": USER,
	"admin": ADMIN,

	"public": PUBLIC,
}

// LookupDomain resolves a domain tag to a policy tag, falling back to
// PUBLIC for anything not present in the map.
func LookupDomain(domain string) Tag {
	if tag, ok := DomainMap[domain]; ok {
		return tag
	}
	return PUBLIC
}
