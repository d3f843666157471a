package finance

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"regexp"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/household-finance/internal/scanning"
)

var _ = Describe("Server", func() {
	var (
		f           *fixture
		server      *Server
		ghttpServer *ghttp.Server
	)

	BeforeEach(func() {
		f = newFixture()
		server = NewServerWithMux(f.service, http.NewServeMux())

		ghttpServer = ghttp.NewServer()
		for _, method := range []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"} {
			ghttpServer.RouteToHandler(method, regexp.MustCompile(".*"), server.ServeHTTP)
		}
	})

	AfterEach(func() {
		ghttpServer.Close()
	})

	type call struct {
		method      string
		path        string
		body        io.Reader
		contentType string
		username    string
		token       string
	}

	do := func(c call) *http.Response {
		req, err := http.NewRequest(c.method, ghttpServer.URL()+c.path, c.body)
		Expect(err).NotTo(HaveOccurred())
		if c.contentType != "" {
			req.Header.Set("Content-Type", c.contentType)
		}
		if c.username != "" {
			req.SetBasicAuth(c.username, testPassword)
		}
		if c.token != "" {
			req.Header.Set(ImpersonationHeader, c.token)
		}
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(resp.Body.Close)
		return resp
	}

	asJSON := func(v any) io.Reader {
		b, err := json.Marshal(v)
		Expect(err).NotTo(HaveOccurred())
		return bytes.NewReader(b)
	}

	decode := func(resp *http.Response, v any) {
		Expect(json.NewDecoder(resp.Body).Decode(v)).To(Succeed())
	}

	upload := func(path, username string, fields map[string]string) *http.Response {
		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)
		part, err := writer.CreateFormFile("file", "fatura.pdf")
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write([]byte("%PDF-1.7 statement"))
		Expect(err).NotTo(HaveOccurred())
		for k, v := range fields {
			Expect(writer.WriteField(k, v)).To(Succeed())
		}
		Expect(writer.Close()).To(Succeed())
		return do(call{method: "POST", path: path, body: body, contentType: writer.FormDataContentType(), username: username})
	}

	Describe("GET /health", func() {
		It("does not require credentials", func() {
			resp := do(call{method: "GET", path: "/health"})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})

	Describe("authentication", func() {
		It("challenges requests without credentials", func() {
			resp := do(call{method: "GET", path: "/api/me"})
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
		})

		It("rejects a wrong password", func() {
			req, err := http.NewRequest("GET", ghttpServer.URL()+"/api/me", nil)
			Expect(err).NotTo(HaveOccurred())
			req.SetBasicAuth("maria", "wrong-password")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})

		It("returns the signed in user without the hash", func() {
			resp := do(call{method: "GET", path: "/api/me", username: "maria"})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var body map[string]map[string]any
			decode(resp, &body)
			Expect(body["user"]["username"]).To(Equal("maria"))
			Expect(body["user"]).NotTo(HaveKey("password_hash"))
			Expect(body).NotTo(HaveKey("impersonated_by"))
		})
	})

	Describe("CORS", func() {
		It("answers preflight requests", func() {
			resp := do(call{method: "OPTIONS", path: "/api/invoices"})
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
			Expect(resp.Header.Get("Access-Control-Allow-Headers")).To(ContainSubstring(ImpersonationHeader))
		})
	})

	Describe("reference data", func() {
		It("lists the supported banks", func() {
			resp := do(call{method: "GET", path: "/api/banks", username: "maria"})
			var body map[string][]string
			decode(resp, &body)
			Expect(body["banks"]).To(ContainElements("nubank", "itau", "generic"))
		})

		It("lists the categories", func() {
			resp := do(call{method: "GET", path: "/api/categories", username: "maria"})
			var body map[string][]string
			decode(resp, &body)
			Expect(body["categories"]).To(ContainElements("groceries", Uncategorized))
		})
	})

	Describe("invoices", func() {
		It("imports an uploaded statement", func() {
			resp := upload("/api/invoices", "maria", map[string]string{"bank": "nubank", "password": "12345"})
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			var result ImportResult
			decode(resp, &result)
			Expect(result.Invoice.Bank).To(Equal("nubank"))
			Expect(result.Transactions).To(HaveLen(4))
			Expect(f.scanner.lastPassword).To(Equal("12345"))
		})

		It("reports a duplicate import as a conflict", func() {
			f.importStatement(f.member)
			resp := upload("/api/invoices", "maria", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))

			var body map[string]string
			decode(resp, &body)
			Expect(body["error"]).NotTo(BeEmpty())
		})

		It("maps a locked PDF to 422", func() {
			f.scanner.scanErr = scanning.ErrPasswordRequired
			resp := upload("/api/invoices", "maria", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
		})

		It("requires a file", func() {
			body := &bytes.Buffer{}
			writer := multipart.NewWriter(body)
			Expect(writer.WriteField("bank", "nubank")).To(Succeed())
			Expect(writer.Close()).To(Succeed())
			resp := do(call{method: "POST", path: "/api/invoices", body: body, contentType: writer.FormDataContentType(), username: "maria"})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("rejects uploads over the size limit", func() {
			server.SetMaxUploadSize(8)
			resp := upload("/api/invoices", "maria", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusRequestEntityTooLarge))
		})

		It("parses a statement without importing it", func() {
			resp := upload("/api/invoices/parse", "maria", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var result ParseResult
			decode(resp, &result)
			Expect(result.Bank).To(Equal("nubank"))
			Expect(f.storage.files).To(BeEmpty())
		})

		Describe("with an imported statement", func() {
			var imported *ImportResult

			BeforeEach(func() {
				imported = f.importStatement(f.member)
			})

			It("lists the household's invoices", func() {
				resp := do(call{method: "GET", path: "/api/invoices", username: "maria"})
				var recs []*InvoiceRecord
				decode(resp, &recs)
				Expect(recs).To(HaveLen(1))
			})

			It("returns the invoice with its transactions", func() {
				resp := do(call{method: "GET", path: "/api/invoices/" + imported.Invoice.ID, username: "maria"})
				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				var body struct {
					Invoice      *InvoiceRecord `json:"invoice"`
					Transactions []*Transaction `json:"transactions"`
				}
				decode(resp, &body)
				Expect(body.Invoice.ID).To(Equal(imported.Invoice.ID))
				Expect(body.Transactions).To(HaveLen(4))
			})

			It("serves the original file", func() {
				resp := do(call{method: "GET", path: "/api/invoices/" + imported.Invoice.ID + "/file", username: "maria"})
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Type")).To(Equal("application/pdf"))
				data, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(string(data)).To(Equal("%PDF-1.7 statement"))
			})

			It("hides the invoice from other households", func() {
				resp := do(call{method: "GET", path: "/api/invoices/" + imported.Invoice.ID, username: "joao"})
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
				Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))
			})

			It("deletes the invoice", func() {
				resp := do(call{method: "DELETE", path: "/api/invoices/" + imported.Invoice.ID, username: "maria"})
				Expect(resp.StatusCode).To(Equal(http.StatusNoContent))

				resp = do(call{method: "GET", path: "/api/invoices/" + imported.Invoice.ID, username: "maria"})
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			})

			It("summarizes the month on the dashboard", func() {
				resp := do(call{method: "GET", path: "/api/dashboard?month=2024-02", username: "maria"})
				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				var summary Summary
				decode(resp, &summary)
				Expect(summary.TransactionCount).To(Equal(4))
				Expect(summary.Spent.StringFixed(2)).To(Equal("107.20"))
			})

			It("rejects a malformed month", func() {
				resp := do(call{method: "GET", path: "/api/dashboard?month=feb", username: "maria"})
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})
	})

	Describe("transactions", func() {
		It("creates, updates and deletes a manual transaction", func() {
			resp := do(call{
				method:   "POST",
				path:     "/api/transactions",
				body:     strings.NewReader(`{"date":"2024-02-10","description":"Spotify","amount":"21.90"}`),
				username: "maria",
			})
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			var created Transaction
			decode(resp, &created)
			Expect(created.Category).To(Equal("subscriptions"))

			resp = do(call{
				method:   "PUT",
				path:     "/api/transactions/" + created.ID,
				body:     asJSON(map[string]string{"category": "music"}),
				username: "maria",
			})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var updated Transaction
			decode(resp, &updated)
			Expect(updated.Category).To(Equal("music"))
			Expect(updated.Amount.StringFixed(2)).To(Equal("21.90"))

			resp = do(call{method: "GET", path: "/api/transactions?category=music", username: "maria"})
			var txns []*Transaction
			decode(resp, &txns)
			Expect(txns).To(HaveLen(1))

			resp = do(call{method: "DELETE", path: "/api/transactions/" + created.ID, username: "maria"})
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))

			resp = do(call{method: "GET", path: "/api/transactions/" + created.ID, username: "maria"})
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("requires date, description and amount", func() {
			resp := do(call{
				method:   "POST",
				path:     "/api/transactions",
				body:     strings.NewReader(`{"description":"Spotify"}`),
				username: "maria",
			})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("rejects malformed date filters", func() {
			resp := do(call{method: "GET", path: "/api/transactions?from=10/02/2024", username: "maria"})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("rejects malformed bodies", func() {
			resp := do(call{method: "POST", path: "/api/transactions", body: strings.NewReader("{"), username: "maria"})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("admin routes", func() {
		It("are forbidden to members", func() {
			resp := do(call{method: "GET", path: "/api/admin/users", username: "maria"})
			Expect(resp.StatusCode).To(Equal(http.StatusForbidden))
		})

		It("list users for admins", func() {
			resp := do(call{method: "GET", path: "/api/admin/users", username: "admin"})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var users []*User
			decode(resp, &users)
			Expect(users).To(HaveLen(3))
		})

		It("create users", func() {
			resp := do(call{
				method:   "POST",
				path:     "/api/admin/users",
				body:     asJSON(map[string]string{"username": "ana", "password": "s3cret-pass", "household_id": "hh-home"}),
				username: "admin",
			})
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			var u User
			decode(resp, &u)
			Expect(u.Role).To(Equal(RoleMember))
			Expect(u.PasswordHash).To(BeEmpty())
		})

		It("report a taken username as a conflict", func() {
			resp := do(call{
				method:   "POST",
				path:     "/api/admin/users",
				body:     asJSON(map[string]string{"username": "maria", "password": "s3cret-pass"}),
				username: "admin",
			})
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
		})

		It("refuse to demote the last admin", func() {
			resp := do(call{
				method:   "PUT",
				path:     "/api/admin/users/u-admin",
				body:     asJSON(map[string]string{"role": "member"}),
				username: "admin",
			})
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
		})

		It("create households", func() {
			resp := do(call{
				method:   "POST",
				path:     "/api/admin/households",
				body:     asJSON(map[string]string{"name": "Beach House"}),
				username: "admin",
			})
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
		})

		It("report metrics", func() {
			f.importStatement(f.member)
			resp := do(call{method: "GET", path: "/api/admin/metrics", username: "admin"})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var m Metrics
			decode(resp, &m)
			Expect(m.Invoices).To(Equal(1))
			Expect(m.Transactions).To(Equal(4))
		})

		It("list the audit log", func() {
			f.importStatement(f.member)
			resp := do(call{method: "GET", path: "/api/admin/audit?limit=1", username: "admin"})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var events []*AuditEvent
			decode(resp, &events)
			Expect(events).To(HaveLen(1))
			Expect(events[0].Action).To(Equal("invoice.import"))
		})

		It("reject a bad audit limit", func() {
			resp := do(call{method: "GET", path: "/api/admin/audit?limit=0", username: "admin"})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("impersonation", func() {
		var token string

		BeforeEach(func() {
			resp := do(call{
				method:   "POST",
				path:     "/api/admin/impersonations",
				body:     asJSON(map[string]string{"user_id": "u-member"}),
				username: "admin",
			})
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			var body struct {
				Session *ImpersonationSession `json:"session"`
				Header  string                `json:"header"`
			}
			decode(resp, &body)
			Expect(body.Header).To(Equal(ImpersonationHeader))
			token = body.Session.Token
		})

		It("acts as the target user", func() {
			resp := do(call{method: "GET", path: "/api/me", username: "admin", token: token})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var body map[string]map[string]any
			decode(resp, &body)
			Expect(body["user"]["username"]).To(Equal("maria"))
			Expect(body["impersonated_by"]["username"]).To(Equal("admin"))
		})

		It("drops admin rights while impersonating", func() {
			resp := do(call{method: "GET", path: "/api/admin/users", username: "admin", token: token})
			Expect(resp.StatusCode).To(Equal(http.StatusForbidden))
		})

		It("can be ended with the token itself", func() {
			resp := do(call{method: "DELETE", path: "/api/admin/impersonations/" + token, username: "admin", token: token})
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))

			resp = do(call{method: "GET", path: "/api/me", username: "admin", token: token})
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})

		It("rejects the header from members", func() {
			resp := do(call{method: "GET", path: "/api/me", username: "maria", token: token})
			Expect(resp.StatusCode).To(Equal(http.StatusForbidden))
		})
	})
})

var _ = DescribeTable("contentTypeFor",
	func(header, filename, expected string) {
		Expect(contentTypeFor(header, filename)).To(Equal(expected))
	},
	Entry("declared type", "Image/JPEG", "x.png", "image/jpeg"),
	Entry("generic type with a PDF name", "application/octet-stream", "fatura.PDF", "application/pdf"),
	Entry("missing type with a HEIC name", "", "IMG_0001.heic", "image/heic"),
	Entry("unknown extension", "", "fatura.txt", "application/octet-stream"),
)
