package main

import "erp-core/cmd/erpcore"

func main() {
	erpcore.Execute()
}
