// wlanpolicyctl is the CLI client for the wlanpolicyd connection manager.
package main

import "github.com/openwlan/wlanpolicyd/cmd/wlanpolicyctl/commands"

func main() {
	commands.Execute()
}
