// Пакет jid — работа с XMPP-адресами.
// Для авторизации используется только bare JID (user@domain),
// resource-часть после "/" игнорируется.
package jid

import "strings"

// Bare возвращает bare JID: часть адреса до первого "/".
// Домен приводится к нижнему регистру, окружающие пробелы удаляются.
func Bare(j string) string {
	j = strings.TrimSpace(j)
	if i := strings.Index(j, "/"); i >= 0 {
		j = j[:i]
	}
	if at := strings.LastIndex(j, "@"); at >= 0 {
		return j[:at+1] + strings.ToLower(j[at+1:])
	}
	return strings.ToLower(j)
}

// Equal сравнивает два адреса по bare JID. Пустые адреса не равны ничему.
func Equal(a, b string) bool {
	ba, bb := Bare(a), Bare(b)
	if ba == "" || bb == "" {
		return false
	}
	return ba == bb
}
