package main

import (
	"billfetch/cmd/billfetch/commands"
	"billfetch/lib/util/serviceutil"
)

func main() {
	commands.ExecuteContext(serviceutil.SignalContext())
}
