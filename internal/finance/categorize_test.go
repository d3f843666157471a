package finance

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Categorizer", func() {
	Describe("DefaultCategorizer", func() {
		var c *Categorizer

		BeforeEach(func() {
			c = DefaultCategorizer()
		})

		DescribeTable("categorizes statement descriptions",
			func(description, category string) {
				Expect(c.Categorize(description)).To(Equal(category))
			},
			Entry("bakery", "Padaria Pão Quente", "groceries"),
			Entry("supermarket in caps", "SUPERMERCADO EXTRA", "groceries"),
			Entry("ride", "Uber *Trip", "transport"),
			Entry("accented keyword", "FARMÁCIA SÃO JOÃO", "health"),
			Entry("marketplace", "MERCADOLIVRE*LOJA", "shopping"),
			Entry("payment", "Pagamento recebido", "payments"),
			Entry("unknown", "XYZ LTDA", Uncategorized),
		)

		It("lists categories in rule order with uncategorized last", func() {
			categories := c.Categories()
			Expect(categories[0]).To(Equal("groceries"))
			Expect(categories[len(categories)-1]).To(Equal(Uncategorized))
		})
	})

	Describe("rule order", func() {
		It("uses the first matching rule", func() {
			c := NewCategorizer([]CategoryRule{
				{Name: "coffee", Keywords: []string{"starbucks"}},
				{Name: "food", Keywords: []string{"starbucks", "burger"}},
			})
			Expect(c.Categorize("STARBUCKS STORE 1234")).To(Equal("coffee"))
			Expect(c.Categorize("BURGER KING")).To(Equal("food"))
		})

		It("ignores rules without a name and blank keywords", func() {
			c := NewCategorizer([]CategoryRule{
				{Name: " ", Keywords: []string{"shop"}},
				{Name: "misc", Keywords: []string{"", "shop"}},
			})
			Expect(c.Categorize("SHOP")).To(Equal("misc"))
			Expect(c.Categorize("anything")).To(Equal(Uncategorized))
		})
	})

	Describe("LoadCategorizer", func() {
		var path string

		BeforeEach(func() {
			path = filepath.Join(GinkgoT().TempDir(), "categories.yaml")
		})

		It("loads rules from YAML", func() {
			yaml := "categories:\n  - name: pets\n    keywords: [petz, cobasi]\n"
			Expect(os.WriteFile(path, []byte(yaml), 0600)).To(Succeed())

			c, err := LoadCategorizer(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(c.Categorize("PETZ ONLINE")).To(Equal("pets"))
		})

		It("fails on invalid YAML", func() {
			Expect(os.WriteFile(path, []byte("categories: 5"), 0600)).To(Succeed())
			_, err := LoadCategorizer(path)
			Expect(err).To(HaveOccurred())
		})

		It("fails when the file is missing", func() {
			_, err := LoadCategorizer(path)
			Expect(err).To(HaveOccurred())
		})
	})
})
