package pkgapproval

// BuiltinPolicySource is the Starlark policy source defining the
// always-whitelisted and never-approvable package sets, evaluated once
// at startup via ParsePolicy — the same mechanism the teacher's
// execpolicy uses for its built-in command rules.
const BuiltinPolicySource = `
package_rule(pattern = "stdlib.*", decision = "whitelisted", justification = "standard library modules")
package_rule(pattern = "json", decision = "whitelisted", justification = "standard library module")
package_rule(pattern = "time", decision = "whitelisted", justification = "standard library module")

package_rule(pattern = "os", decision = "blocked", justification = "raw OS access is never available to untrusted code")
package_rule(pattern = "subprocess", decision = "blocked", justification = "process spawning is never available to untrusted code")
package_rule(pattern = "net.*", decision = "blocked", justification = "raw sockets bypass the Network Policy Engine")
`

// NewBuiltinPolicy parses BuiltinPolicySource into a ready-to-use Policy.
func NewBuiltinPolicy() (*Policy, error) {
	return ParsePolicy("<builtin>", BuiltinPolicySource)
}
