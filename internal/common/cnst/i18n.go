package cnst

const (
	LangEN      = "en"
	LangKO      = "ko"
	LangDefault = LangEN
)

const (
	// XLang is the request header carrying the preferred language
	XLang = "X-Lang"
	// QueryLang is the handshake query parameter carrying the preferred language
	QueryLang = "lang"
)
