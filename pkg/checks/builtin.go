package checks

// Builtins returns fresh instances of every built-in check in their
// canonical order.
func Builtins() []Check {
	return []Check{
		missingHSTS(),
		securityHeadersCheck(),
		insecureCookie(),
		errorDisclosure(),
		serverBanner(),
		NewOpenRedirect(),
		sqlInjection(),
		reflectedXSS(),
	}
}
