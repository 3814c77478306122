package models

// SessionMeta — сведения о клиенте, открывающем сессию.
type SessionMeta struct {
	IPAddress string
	UserAgent string
}
