// Package gitignore matches paths against gitignore-syntax patterns
// (https://git-scm.com/docs/gitignore): wildcards (*, ?, **), rooted
// and directory-only forms, negations, and nested .gitignore scoping.
// Two consumers share it and must agree exactly; the scanner, which
// decides what enters the eligible set, and the watcher, which decides
// which events are worth waking the reconciler for. Matching is
// thread-safe.
//
//	m := gitignore.New()
//	m.AddPattern("*.log")
//	m.AddPattern("!important.log")
//	m.AddPattern("/build/")
//
//	if m.Match("error.log", false) {
//	    // ignored
//	}
//
// Nested files scope their patterns to their directory:
//
//	m.AddFromFile("/repo/.gitignore", "")
//	m.AddFromFile("/repo/src/.gitignore", "src")
package gitignore
