package cmdserver

import (
	"strconv"
	"time"
)

const (
	cmdHelp     = "help"
	cmdSleep    = "sleep"
	cmdShutdown = "shutdown9999"
)

// ShutdownCmdName is the command name that terminates a Server's worker
// loop, matching CmdServerApp.SHUTDOWN_CMD.
const ShutdownCmdName = cmdShutdown

func registerBuiltins(r *Registry) {
	r.Register(cmdSleep, cmdISleep, cmdQSleep, "sleep <seconds>: block the control thread")
	r.Register(cmdHelp, cmdIHelp(r), nil, "help [cmd]: list commands or show one command's help")
	r.Register(cmdShutdown, cmdIShutdown, cmdQShutdown, "shutdown9999 [seconds]: stop the server after an optional grace period")
}

func cmdISleep(args []string) (RC, any) {
	if len(args) < 2 {
		return RCNg, args[0] + ": missing <seconds>"
	}
	secs, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return RCNg, args[0] + ": " + err.Error()
	}
	return RCCont, "sleep_sec=" + strconv.FormatFloat(secs, 'g', -1, 64)
}

func cmdQSleep(args []string) (RC, any) {
	secs, _ := strconv.ParseFloat(args[1], 64)
	time.Sleep(time.Duration(secs * float64(time.Second)))
	return RCOk, args[0] + ": sleep_sec=" + strconv.FormatFloat(secs, 'g', -1, 64)
}

func cmdIHelp(r *Registry) FuncI {
	return func(args []string) (RC, any) {
		if len(args) >= 2 {
			help, err := r.helpOne(args[1])
			if err != nil {
				return RCNg, err.Error()
			}
			return RCOk, help
		}
		return RCOk, r.helpAll()
	}
}

func cmdIShutdown(args []string) (RC, any) {
	if len(args) == 1 {
		return RCAccept, "sleep_sec=0"
	}
	secs, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return RCNg, args[0] + ": " + err.Error()
	}
	return RCAccept, "sleep_sec=" + strconv.FormatFloat(secs, 'g', -1, 64)
}

func cmdQShutdown(args []string) (RC, any) {
	var secs float64
	if len(args) > 1 {
		secs, _ = strconv.ParseFloat(args[1], 64)
	}
	time.Sleep(time.Duration(secs * float64(time.Second)))
	return RCOk, args[0] + ": sleep_sec=" + strconv.FormatFloat(secs, 'g', -1, 64)
}
