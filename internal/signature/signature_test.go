package signature

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecognize(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		mode     Mode
		wantKind Kind
		wantName string
	}{
		{"modifiers and void", "public void Process(int id)", ModeRestrictive, KindMethod, "Process"},
		{"async generic return", "public async Task<IActionResult> GetUser(int id)", ModeRestrictive, KindMethod, "GetUser"},
		{"nested generics", "private static Dictionary<string, List<int>> Build()", ModeRestrictive, KindMethod, "Build"},
		{"attribute prefix", "[HttpGet] public IActionResult Index()", ModeRestrictive, KindMethod, "Index"},
		{"generic method", "public T Resolve<T>(string key)", ModeRestrictive, KindMethod, "Resolve"},
		{"explicit interface impl", "void IDisposable.Dispose()", ModeRestrictive, KindMethod, "Dispose"},
		{"expression bodied", "public int Twice(int x) => x * 2;", ModeRestrictive, KindMethod, "Twice"},
		{"bare allow-listed type", "string Format(Order order)", ModeRestrictive, KindMethod, "Format"},
		{"bare custom type restrictive", "Order Load(int id)", ModeRestrictive, KindNone, ""},
		{"bare custom type permissive", "Order Load(int id)", ModePermissive, KindMethod, "Load"},
		{"class", "public sealed class OrderService : IOrderService", ModeRestrictive, KindClass, "OrderService"},
		{"var assignment", "var result = Load(id);", ModePermissive, KindNone, ""},
		{"typed assignment", "Order order = Load(id);", ModePermissive, KindNone, ""},
		{"return statement", "return Load(id);", ModePermissive, KindNone, ""},
		{"await statement", "await Save(order);", ModePermissive, KindNone, ""},
		{"if statement", "if (Validate(order))", ModePermissive, KindNone, ""},
		{"new expression", "new Order(id)", ModePermissive, KindNone, ""},
		{"lambda", "items.ForEach(x => Save(x));", ModePermissive, KindNone, ""},
		{"member call", "_repository.Save(order);", ModePermissive, KindNone, ""},
		{"comment", "// public void Old()", ModePermissive, KindNone, ""},
		{"default parameter", "public void Run(int retries = 3)", ModeRestrictive, KindMethod, "Run"},
		{"field", "private readonly IOrderRepository _repository;", ModePermissive, KindNone, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Recognize(tt.line, tt.mode)
			assert.Equal(t, tt.wantKind, d.Kind)
			assert.Equal(t, tt.wantName, d.Name)
		})
	}
}

func TestWindowJoinsMultiLineSignature(t *testing.T) {
	lines := []string{
		"    public async Task<Dictionary<string,",
		"        List<Order>>> LoadAll(",
		"        int page,",
		"        int size)",
		"    {",
	}
	text, end := Window(lines, 0)
	assert.Equal(t, 3, end)
	d := Recognize(text, ModeRestrictive)
	require.Equal(t, KindMethod, d.Kind)
	assert.Equal(t, "LoadAll", d.Name)
}

func TestWindowStopsAtBodyWithoutParen(t *testing.T) {
	lines := []string{
		"public int Count { get; set; }",
		"public void Next()",
	}
	_, end := Window(lines, 0)
	assert.Equal(t, 0, end)
}

func TestFindNamespace(t *testing.T) {
	lines := strings.Split(`using System;
namespace Shop.Orders.Services
{
    public class OrderService
    {
        public void Place() {}
    }
}`, "\n")
	assert.Equal(t, "Shop.Orders.Services", FindNamespace(lines, 5))
	assert.Equal(t, "", FindNamespace(lines, 0))
}

const orderService = `namespace Shop.Orders
{
    public class OrderService
    {
        private readonly IRepository _repo;

        public OrderResult Place(Order order)
        {
            var total = Calculate(order);
            if (Validate(order))
            {
                _repo.Save(order);
            }
            return new OrderResult(total);
        }

        public void Helper() { Calculate(null); }
    }
}`

func TestFindEnclosingMethod(t *testing.T) {
	lines := strings.Split(orderService, "\n")

	d, ok := FindEnclosingMethod(lines, 11)
	require.True(t, ok)
	assert.Equal(t, "Place", d.Name)
	assert.Equal(t, 6, d.Line)
	assert.Equal(t, strings.Index(lines[6], "Place"), d.Character)

	d, ok = FindEnclosingMethod(lines, 16)
	require.True(t, ok)
	assert.Equal(t, "Helper", d.Name)

	_, ok = FindEnclosingMethod(lines, 4)
	assert.False(t, ok, "field initializers belong to no method")
}

func TestFindEnclosingMethodUsesRestrictiveGrammar(t *testing.T) {
	lines := []string{
		"class Foo {",
		"    void Run()",
		"    {",
		"        Order Build(int x)",
		"    }",
	}
	// "Order Build(" is not allow-listed, so the scan continues up to Run.
	d, ok := FindEnclosingMethod(lines, 3)
	require.True(t, ok)
	assert.Equal(t, "Run", d.Name)
}

func TestDeclarationAt(t *testing.T) {
	lines := []string{
		"namespace Api",
		"{",
		"    public class UsersController",
		"    {",
		"        [HttpGet(\"{id}\")]",
		"        public async Task<ActionResult<User>> Get(",
		"            int id)",
		"        {",
	}

	d, ok := DeclarationAt(lines, 6)
	require.True(t, ok)
	assert.Equal(t, KindMethod, d.Kind)
	assert.Equal(t, "Get", d.Name)
	assert.Equal(t, 5, d.Line)

	d, ok = DeclarationAt(lines, 4)
	require.True(t, ok)
	assert.Equal(t, "Get", d.Name)

	d, ok = DeclarationAt(lines, 2)
	require.True(t, ok)
	assert.Equal(t, KindClass, d.Kind)
	assert.Equal(t, "UsersController", d.Name)
	assert.Equal(t, strings.Index(lines[2], "UsersController"), d.Character)
}

func TestFindHTTPAttribute(t *testing.T) {
	lines := []string{
		"[ApiController]",
		"public class C {",
		"    [HttpPost(\"orders\")]",
		"    [Authorize]",
		"    public IActionResult Create(Order o)",
		"    {",
		"    }",
		"",
		"",
		"",
		"",
		"",
		"    public void Plain() {}",
	}
	assert.Equal(t, `[HttpPost("orders")]`, FindHTTPAttribute(lines, 4))
	assert.Equal(t, "", FindHTTPAttribute(lines, 12))
}

func TestParameterList(t *testing.T) {
	assert.Equal(t, "Order order, Func<int, int> f", ParameterList("public void Run(Order order, Func<int, int> f) {"))
	assert.Equal(t, "", ParameterList("no parens"))
}

func TestIsNonMethodCode(t *testing.T) {
	assert.True(t, IsNonMethodCode("catch (Exception ex)"))
	assert.True(t, IsNonMethodCode("using (var scope = Begin())"))
	assert.True(t, IsNonMethodCode("foreach (var o in orders)"))
	assert.True(t, IsNonMethodCode("Func<int> f = () => Compute();"))
	assert.False(t, IsNonMethodCode("public void Run(int x = 1)"))
}
