// Package toolexec runs the vendor command line tools (espefuse, espsecure,
// esptool, pio, openssl, mklittlefs) with bounded time budgets and maps their
// failures onto the sentinel errors in the interfaces package.
//
// Every call carries a timeout. A tool that exceeds it yields ErrToolTimeout,
// a missing executable yields ErrToolNotFound and a non-zero exit yields a
// *interfaces.ToolError holding the captured output.
package toolexec
