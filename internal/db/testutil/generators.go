// Package testutil provides shared test utilities and generators for property-based testing.
// The arbitrary generators are intentionally aggressive to catch edge cases.
package testutil

import (
	"pgregory.net/rapid"
)

// ShellCommand generates realistic single-line shell commands, including
// the dashes, slashes, pipes and quotes that word tokenizers split on.
func ShellCommand() *rapid.Generator[string] {
	return rapid.OneOf(
		rapid.SampledFrom([]string{
			"cd",
			"pwd",
			"echo hi",
			"cat /proc/cpuinfo",
			"ls -la",
			"git log --oneline | head -n 20",
			"grep -rn 'TODO' ./internal",
			"docker run --rm -it alpine:3.20 sh",
			`awk -F: '{print $1}' /etc/passwd`,
			"kubectl get pods -n kube-system -o wide",
			"tar -czf backup.tgz ~/work && echo done",
			"find . -name '*.go' -exec wc -l {} +",
		}),
		rapid.StringMatching(`[a-z]{1,8}( -{1,2}[a-z]{1,6})?( [a-zA-Z0-9_./|-]{1,20}){0,3}`),
	)
}

// ArbitraryCommand generates arbitrary non-blank command text, including
// unicode, SQL injection attempts and FTS5 syntax.
func ArbitraryCommand() *rapid.Generator[string] {
	return rapid.OneOf(
		ShellCommand(),
		rapid.StringMatching(`[a-zA-Z0-9][a-zA-Z0-9 ]{0,60}`),
		arbitrarySQLInjection(),
		arbitraryFTS5Syntax(),
		arbitraryUnicode(),
	)
}

// ArbitrarySearchQuery generates strings suitable for FTS5 search testing.
// Includes all the edge cases that could break search.
func ArbitrarySearchQuery() *rapid.Generator[string] {
	return rapid.OneOf(
		rapid.String(),
		rapid.Just("\x00"),
		rapid.Just("test\x00test"),
		arbitrarySQLInjection(),
		arbitraryFTS5Syntax(),
		arbitraryUnicode(),
		arbitraryWhitespace(),
	)
}

// HistoryLine generates one line of a shell history file: a command, a
// blank or whitespace-only line, or a command with surrounding whitespace.
func HistoryLine() *rapid.Generator[string] {
	return rapid.OneOf(
		ShellCommand(),
		ShellCommand(),
		rapid.SampledFrom([]string{"", " ", "\t", "   "}),
		rapid.Custom(func(t *rapid.T) string {
			return "  " + ShellCommand().Draw(t, "padded") + "\t"
		}),
	)
}

// arbitrarySQLInjection generates common SQL injection patterns
func arbitrarySQLInjection() *rapid.Generator[string] {
	return rapid.SampledFrom([]string{
		`' OR 1=1 --`,
		`'; DROP TABLE commands; --`,
		`" OR "1"="1`,
		`1; SELECT * FROM commands`,
		`admin'--`,
		`' UNION SELECT * FROM commands --`,
		`' OR ''='`,
		`1' AND '1'='1`,
		`%27%20OR%20%271%27%3D%271`,
		`<script>alert('xss')</script>`,
	})
}

// arbitraryFTS5Syntax generates FTS5 special syntax that could cause parsing errors
func arbitraryFTS5Syntax() *rapid.Generator[string] {
	return rapid.SampledFrom([]string{
		`"`,
		`""`,
		`test"`,
		`"test`,
		`AND`,
		`OR`,
		`NOT`,
		`NEAR/5`,
		`*`,
		`test*`,
		`^test`,
		`col:value`,
		`(test`,
		`-test`,
		`+test`,
		`test AND OR`,
		`"unterminated phrase`,
		`tokens:61`,
	})
}

// arbitraryUnicode generates various Unicode edge cases
func arbitraryUnicode() *rapid.Generator[string] {
	return rapid.SampledFrom([]string{
		"日本語",
		"echo 中文测试",
		"العربية",
		"🔥🎉💻🚀",
		"emoji🔥in🎉middle",
		"Ñoño",
		"cd Zürich",
		"Москва",
		"Ελληνικά",
		"à",
		"test space",
		"math∑∏∫",
	})
}

// arbitraryWhitespace generates various whitespace patterns
func arbitraryWhitespace() *rapid.Generator[string] {
	return rapid.SampledFrom([]string{
		" ",
		"\t",
		"  test  ",
		"\ttest\t",
		" ",
		"　",
	})
}

// ValidOwner generates owner names safe for any backend.
func ValidOwner() *rapid.Generator[string] {
	return rapid.Custom(func(t *rapid.T) string {
		prefix := rapid.StringMatching("[a-z]{1,10}").Draw(t, "prefix")
		suffix := rapid.StringMatching("[0-9]{1,5}").Draw(t, "suffix")
		return prefix + "-" + suffix
	})
}

// ArbitraryOwner generates arbitrary owner names, including ones that
// would be unsafe as raw file names.
func ArbitraryOwner() *rapid.Generator[string] {
	return rapid.OneOf(
		ValidOwner(),
		rapid.Just(""),
		rapid.Just("../escape"),
		rapid.Just("/root"),
		rapid.Just("a/b"),
		rapid.Just("user\x00id"),
		rapid.StringN(1, 40, 160),
	)
}
