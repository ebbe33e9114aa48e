package compiler

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/chazu/minis/pkg/bytecode"
)

// run compiles src, executes it on the reference VM, and returns what
// it printed.
func run(t *testing.T, src string) string {
	t.Helper()
	res, err := Compile(context.Background(), src, Options{File: "test.mi"})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	mod, err := bytecode.Decode(res.Module)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	var out bytes.Buffer
	vm := bytecode.NewVM(mod, &out)
	vm.MaxSteps = 100000
	if err := vm.Run(); err != nil {
		t.Fatalf("Run: %v\noutput so far:\n%s", err, out.String())
	}
	if d := vm.StackDepth(); d != 0 {
		t.Errorf("stack depth after run = %d, want 0", d)
	}
	return out.String()
}

func TestIntegrationPrograms(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"add", `print(2 + 2);`, "4\n"},
		{"multiply vars", `let x = 3; let y = 4; print(x * y);`, "12\n"},
		{"if else", `if 1 == 1 { print("yes"); } else { print("no"); }`, "yes\n"},
		{"while", `let i = 0; while i < 3 { print(i); i = i + 1; }`, "0\n1\n2\n"},
		{"while zero iterations", `let i = 5; while i < 3 { print(i); } print("done");`, "done\n"},
		{"precedence", `print(2 + 3 * 4 - 6 / 2);`, "11\n"},
		{"left associative", `print(10 - 4 - 3); print(64 / 4 / 2);`, "3\n8\n"},
		{"parens", `print((2 + 3) * (4 - 1));`, "15\n"},
		{"negation", `let x = 4; print(-x + 1);`, "-3\n"},
		{"comparisons", `print(3 > 2, 2 > 3, 3 >= 3, 2 >= 3);`, "true false true false\n"},
		{"logic", `print(1 < 2 and 2 < 3, 1 > 2 or 2 > 3, !(1 < 2));`, "true false false\n"},
		{"strings", `let s = "a.b"; print(s + "!"); print(len(s));`, "a.b!\n3\n"},
		{"lists", `let xs = [10, 20, 30]; print(xs[1], xs[3]); let i = 2; print(xs[i]);`, "10 30\n20\n"},
		{"index assign", `let xs = [1, 2]; xs[2] = 5; print(xs);`, "[1, 5]\n"},
		{"function", `fn add(a, b) { return a + b; } print(add(2, 3));`, "5\n"},
		{"hoisted", `print(sq(7)); fn sq(n) { return n * n; }`, "49\n"},
		{"recursion", `fn fact(n) { if n <= 1 { return 1; } return n * fact(n - 1); } print(fact(5));`, "120\n"},
		{"void function", `fn hello() -> void { print("hi"); } hello(); hello();`, "hi\nhi\n"},
		{"globals in function", `fn bump() { counter = counter + 1; } let counter = 0; bump(); bump(); print(counter);`, "2\n"},
		{"shadow builtin", `fn len(x) { return 99; } print(len([1]));`, "99\n"},
		{"range", `let r = range(3); print(r);`, "[0, 1, 2]\n"},
		{"exit", `print(1); exit; print(2);`, "1\n"},
		{"let without value", `let x; print(x);`, "0\n"},
		{"comments", "// c\nprint(1); # c\n/* c */ print(2);", "1\n2\n"},
		{"typed return", `fn half(n) -> int { return n / 2; } print(half(7));`, "3\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := run(t, tt.src); got != tt.want {
				t.Errorf("output = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIntegrationIfChainExactlyOneBranch(t *testing.T) {
	src := `
fn pick(x) {
	if x == 1 { print("one"); }
	elif x == 2 { print("two"); }
	elif x == 3 { print("three"); }
	else { print("other"); }
	print("join");
}
pick(1); pick(2); pick(3); pick(4);
`
	want := "one\njoin\ntwo\njoin\nthree\njoin\nother\njoin\n"
	if got := run(t, src); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestIntegrationIfWithoutElse(t *testing.T) {
	src := `let x = 2; if x == 1 { print("a"); } elif x == 3 { print("b"); } print("end");`
	if got := run(t, src); got != "end\n" {
		t.Errorf("output = %q, want %q", got, "end\n")
	}
}

func TestIntegrationArithmeticOracle(t *testing.T) {
	tests := []struct {
		expr string
		want float64
	}{
		{"1 + 2 * 3", 7},
		{"(1 + 2) * 3", 9},
		{"100 / 10 / 5", 2},
		{"7 - 2 - 1", 4},
		{"2 * (3 + 4) * 5", 70},
		{"((8))", 8},
		{"1.5 * 4", 6},
		{"-2 * -3", 6},
	}

	for _, tt := range tests {
		got := strings.TrimSpace(run(t, "print("+tt.expr+");"))
		want := bytecode.FormatValue(tt.want)
		if got != want {
			t.Errorf("%s = %s, want %s", tt.expr, got, want)
		}
	}
}
