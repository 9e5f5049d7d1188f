package filestore

import (
	"net/url"
	"strings"
)

// partSuffix — суффикс staging-файла незавершённой загрузки.
const partSuffix = ".part"

// MaxFilenameLength — максимальная длина закодированного имени файла:
// ограничение файловых систем на компонент пути (255) за вычетом partSuffix.
const MaxFilenameLength = 255 - len(partSuffix)

// EncodeFilename кодирует имя файла по RFC 3986: все символы, кроме
// A-Z a-z 0-9 - _ . ~, заменяются на %XX. Пробел кодируется как %20.
func EncodeFilename(name string) string {
	return strings.ReplaceAll(url.QueryEscape(name), "+", "%20")
}

// ValidFilename проверяет, что закодированное имя пригодно как компонент пути.
func ValidFilename(encoded string) bool {
	switch encoded {
	case "", ".", "..":
		return false
	}
	if len(encoded) > MaxFilenameLength {
		return false
	}
	return !strings.ContainsAny(encoded, "/\\\x00")
}
