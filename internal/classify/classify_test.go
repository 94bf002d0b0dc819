package classify

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/abramin/upstream/internal/model"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		line string
		want Kind
	}{
		{"var total = Calculate(order);", KindCall},
		{"    Calculate (order);", KindCall},
		{"return Calculate<decimal>(order);", KindCall},
		{"public decimal Calculate(Order order)", KindDeclaration},
		{"private static decimal Calculate<T>(T order)", KindDeclaration},
		{"public void Helper() { Calculate(null); }", KindCall},
		{"// Calculate(order);", KindNotAMatch},
		{"RecalculateAll(orders);", KindNotAMatch},
		{"var calc = Calculate;", KindNotAMatch},
		{"_svc.Calculate(order);", KindCall},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.line, "Calculate"))
		})
	}
}

func TestCallPatternIsCached(t *testing.T) {
	assert.Same(t, CallPattern("Load"), CallPattern("Load"))
}

func TestCallColumns(t *testing.T) {
	assert.Equal(t, []int{4, 17}, CallColumns("    Save(a); _ = Save(b);", "Save"))
	assert.Nil(t, CallColumns("nothing here", "Save"))
}

const classSource = `using Shop.Orders;
namespace Shop.Api
{
    public interface IOrderGateway
    {
        Task<Receipt> Submit(Order order);
    }

    public class OrderHandler : HandlerBase<Order>
    {
        // Order is handled here
        public void Handle(
            Order order,
            int retries)
        {
            var copy = new Order(order.Id);
            Process(order);
        }

        public string Describe() => nameof(Order);
    }
}`

func TestClassifyClassUsage(t *testing.T) {
	lines := strings.Split(classSource, "\n")
	line := func(substr string) int {
		for i, l := range lines {
			if strings.Contains(l, substr) {
				return i
			}
		}
		t.Fatalf("line containing %q not found", substr)
		return -1
	}

	u := ClassifyClassUsage(lines, line("Submit(Order"), "Order")
	assert.False(t, u.Ignored)
	assert.Equal(t, model.RefInterface, u.Type)
	assert.Equal(t, "Submit", u.Decl.Name)

	u = ClassifyClassUsage(lines, line("new Order("), "Order")
	assert.Equal(t, model.RefInstantiation, u.Type)

	u = ClassifyClassUsage(lines, line("Order order,"), "Order")
	assert.False(t, u.Ignored)
	assert.Equal(t, model.RefParameter, u.Type)
	assert.Equal(t, "Handle", u.Decl.Name)
	assert.Equal(t, line("public void Handle("), u.Decl.Line)

	for _, substr := range []string{"using Shop.Orders", "HandlerBase<Order>", "// Order is handled", "nameof(Order)"} {
		u = ClassifyClassUsage(lines, line(substr), "Order")
		assert.True(t, u.Ignored, substr)
	}

	assert.True(t, ClassifyClassUsage(lines, len(lines)+3, "Order").Ignored)
}

func TestParameterUsageLocatesWrappedName(t *testing.T) {
	lines := []string{
		"    public async Task<Receipt>",
		"        Handle(Order order)",
		"    {",
	}
	u := ClassifyClassUsage(lines, 1, "Order")
	assert.Equal(t, model.RefParameter, u.Type)
	assert.Equal(t, "Handle", u.Decl.Name)
	assert.Equal(t, 1, u.Decl.Line)
	assert.Equal(t, 8, u.Decl.Character)
}

func TestParameterUsageDoesNotCrossBlocks(t *testing.T) {
	lines := []string{
		"public void Run(Order order)",
		"{",
		"    Order other = null;",
	}
	u := ClassifyClassUsage(lines, 2, "Order")
	assert.True(t, u.Ignored)
}
