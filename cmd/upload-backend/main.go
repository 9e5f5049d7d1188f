// Точка входа upload-backend — бэкенда HTTP Upload (XEP-0363) для XMPP-серверов.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
