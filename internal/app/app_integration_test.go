//go:build integration

package app_test

import (
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anac-tg/incident-desk/internal/domain"
	"github.com/anac-tg/incident-desk/internal/testutil"
)

type incidentBody struct {
	ID          string                `json:"id"`
	TrackingID  string                `json:"tracking_id"`
	Title       string                `json:"title"`
	Type        domain.IncidentType   `json:"type"`
	TypeLabel   string                `json:"type_label"`
	Priority    domain.Priority       `json:"priority"`
	Status      domain.IncidentStatus `json:"status"`
	PhotoPath   *string               `json:"photo_path"`
	AIAnalysis  string                `json:"ai_analysis"`
	Revision    int                   `json:"revision"`
	ResolvedAt  *time.Time            `json:"resolved_at"`
	Coordinates *domain.Coordinates   `json:"coordinates"`
	Declarant   *struct {
		Name string `json:"name"`
	} `json:"declarant"`
	Assignee *struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"assignee"`
}

type envelope[T any] struct {
	Data T `json:"data"`
}

func decodeIncident(t *testing.T, resp *http.Response) incidentBody {
	t.Helper()
	var body envelope[incidentBody]
	testutil.DecodeJSON(t, resp, &body)
	return body.Data
}

func requireStatus(t *testing.T, resp *http.Response, err error, want int) {
	t.Helper()
	require.NoError(t, err)
	if resp.StatusCode != want {
		t.Fatalf("expected status %d, got %d: %s", want, resp.StatusCode, testutil.ReadBody(t, resp))
	}
}

func createTextIncident(t *testing.T, client *testutil.Client, title, description string) incidentBody {
	t.Helper()
	resp, err := client.POST("/api/v1/incidents", map[string]any{
		"title":       title,
		"description": description,
		"location":    "Parking avions, poste 7",
	})
	requireStatus(t, resp, err, http.StatusCreated)
	return decodeIncident(t, resp)
}

func TestHealthEndpoints(t *testing.T) {
	for _, path := range []string{"/healthz", "/readyz", "/version", "/api/openapi.yaml"} {
		t.Run(path, func(t *testing.T) {
			resp, err := http.Get(testServer.URL + path)
			require.NoError(t, err)
			defer func() { _ = resp.Body.Close() }()
			assert.Equal(t, http.StatusOK, resp.StatusCode)
		})
	}
}

func TestAuth_SessionLifecycle(t *testing.T) {
	client := newTestClient(t)
	email := fmt.Sprintf("session-%d@aeroport.test", time.Now().UnixNano())
	client.Register(t, email, testPassword, "Kofi", "Agbeko")

	t.Run("duplicate registration", func(t *testing.T) {
		resp, err := client.POST("/api/v1/auth/register", map[string]string{
			"email": strings.ToUpper(email), "password": testPassword,
		})
		requireStatus(t, resp, err, http.StatusConflict)
		_ = resp.Body.Close()
	})

	t.Run("wrong password", func(t *testing.T) {
		resp, err := client.POST("/api/v1/auth/login", map[string]string{
			"email": email, "password": "not-the-password",
		})
		requireStatus(t, resp, err, http.StatusUnauthorized)
		_ = resp.Body.Close()
	})

	client.LoginAs(t, email, testPassword)

	resp, err := client.GET("/api/v1/me")
	requireStatus(t, resp, err, http.StatusOK)
	var me envelope[domain.User]
	testutil.DecodeJSON(t, resp, &me)
	assert.Equal(t, email, me.Data.Email)
	assert.Equal(t, domain.RoleUser, me.Data.Role)

	resp, err = client.POST("/api/v1/auth/refresh", nil)
	requireStatus(t, resp, err, http.StatusOK)
	var pair envelope[struct {
		RefreshToken string `json:"refresh_token"`
	}]
	testutil.DecodeJSON(t, resp, &pair)
	require.NotEmpty(t, pair.Data.RefreshToken)

	resp, err = client.POST("/api/v1/auth/logout", nil)
	requireStatus(t, resp, err, http.StatusNoContent)
	_ = resp.Body.Close()

	t.Run("revoked refresh token", func(t *testing.T) {
		resp, err := client.POST("/api/v1/auth/refresh", map[string]string{"refresh_token": pair.Data.RefreshToken})
		requireStatus(t, resp, err, http.StatusUnauthorized)
		_ = resp.Body.Close()
	})

	t.Run("anonymous me", func(t *testing.T) {
		resp, err := client.GET("/api/v1/me")
		requireStatus(t, resp, err, http.StatusUnauthorized)
		_ = resp.Body.Close()
	})
}

func TestAuth_SeededAdmin(t *testing.T) {
	client := newTestClient(t)
	client.LoginAs(t, adminEmail, adminPassword)

	resp, err := client.GET("/api/v1/me")
	requireStatus(t, resp, err, http.StatusOK)
	var me envelope[domain.User]
	testutil.DecodeJSON(t, resp, &me)
	assert.Equal(t, domain.RoleAdmin, me.Data.Role)
}

func TestIncidents_TextReportLifecycle(t *testing.T) {
	declarant, _ := newAccount(t, domain.RoleUser, "Afi", "Dogbe")
	operator, operatorID := newAccount(t, domain.RoleOperator, "Ama", "Mensah")
	admin := newTestClient(t)
	admin.LoginAs(t, adminEmail, adminPassword)

	// Arrange: a report without photo goes through the text-only path.
	inc := createTextIncident(t, declarant, "Fissure sur le tarmac", "Fissure visible sur le tarmac près de la porte 3")
	assert.True(t, strings.HasPrefix(inc.TrackingID, "INC-"))
	assert.Equal(t, domain.IncidentTypeOther, inc.Type)
	assert.Equal(t, domain.PriorityMedium, inc.Priority)
	assert.Equal(t, domain.IncidentStatusPending, inc.Status)
	assert.Equal(t, 1, inc.Revision)
	require.NotNil(t, inc.Declarant)
	assert.Equal(t, "Afi Dogbe", inc.Declarant.Name)

	t.Run("lookup by tracking id", func(t *testing.T) {
		resp, err := declarant.GET("/api/v1/incidents/tracking/" + inc.TrackingID)
		requireStatus(t, resp, err, http.StatusOK)
		assert.Equal(t, inc.ID, decodeIncident(t, resp).ID)
	})

	t.Run("declarant cannot change status", func(t *testing.T) {
		resp, err := declarant.WithoutValidation().PUT("/api/v1/incidents/"+inc.ID+"/status", map[string]string{"status": "EN_COURS"})
		requireStatus(t, resp, err, http.StatusForbidden)
		_ = resp.Body.Close()
	})

	resp, err := operator.PUT("/api/v1/incidents/"+inc.ID+"/assign", map[string]string{"assignee_id": operatorID})
	requireStatus(t, resp, err, http.StatusOK)
	assigned := decodeIncident(t, resp)
	require.NotNil(t, assigned.Assignee)
	assert.Equal(t, "Ama Mensah", assigned.Assignee.Name)

	resp, err = operator.PUT("/api/v1/incidents/"+inc.ID+"/status", map[string]string{"status": "EN_COURS"})
	requireStatus(t, resp, err, http.StatusOK)
	inProgress := decodeIncident(t, resp)
	assert.Equal(t, domain.IncidentStatusInProgress, inProgress.Status)

	t.Run("stale revision is rejected", func(t *testing.T) {
		resp, err := operator.PATCH("/api/v1/incidents/"+inc.ID, map[string]any{"title": "Fissure", "revision": 1})
		requireStatus(t, resp, err, http.StatusConflict)
		_ = resp.Body.Close()
	})

	resp, err = operator.PATCH("/api/v1/incidents/"+inc.ID, map[string]any{
		"title":       "Fissure importante sur le tarmac",
		"coordinates": map[string]float64{"latitude": 6.1656, "longitude": 1.2546},
		"revision":    inProgress.Revision,
	})
	requireStatus(t, resp, err, http.StatusOK)
	patched := decodeIncident(t, resp)
	assert.Equal(t, "Fissure importante sur le tarmac", patched.Title)
	assert.Equal(t, inProgress.Revision+1, patched.Revision)
	require.NotNil(t, patched.Coordinates)
	assert.InDelta(t, 6.1656, patched.Coordinates.Latitude, 1e-9)

	resp, err = operator.PUT("/api/v1/incidents/"+inc.ID+"/status", map[string]string{"status": "RESOLU"})
	requireStatus(t, resp, err, http.StatusOK)
	resolved := decodeIncident(t, resp)
	assert.NotNil(t, resolved.ResolvedAt)

	t.Run("resolved incident is terminal", func(t *testing.T) {
		resp, err := operator.PUT("/api/v1/incidents/"+inc.ID+"/status", map[string]string{"status": "EN_COURS"})
		requireStatus(t, resp, err, http.StatusConflict)
		_ = resp.Body.Close()
	})

	t.Run("only admin deletes", func(t *testing.T) {
		resp, err := operator.DELETE("/api/v1/incidents/" + inc.ID)
		requireStatus(t, resp, err, http.StatusForbidden)
		_ = resp.Body.Close()

		resp, err = admin.DELETE("/api/v1/incidents/" + inc.ID)
		requireStatus(t, resp, err, http.StatusNoContent)
		_ = resp.Body.Close()

		resp, err = declarant.GET("/api/v1/incidents/" + inc.ID)
		requireStatus(t, resp, err, http.StatusNotFound)
		_ = resp.Body.Close()
	})

	t.Run("malformed id is not found", func(t *testing.T) {
		for _, id := range []string{"abc", inc.ID + "x", "1%27%20OR%20%271%27%3D%271"} {
			resp, err := declarant.GET("/api/v1/incidents/" + id)
			requireStatus(t, resp, err, http.StatusNotFound)
			_ = resp.Body.Close()
		}
	})
}

func TestIncidents_PhotoReportRaisesAlert(t *testing.T) {
	require.NoError(t, mailpitClient.DeleteAllMessages())
	declarant, _ := newAccount(t, domain.RoleUser, "Yao", "Kpodar")
	photo := []byte("\x89PNG\r\n\x1a\nfake-image-bytes")
	title := "Impact oiseau " + time.Now().Format("150405.000")

	// Act
	resp, err := declarant.PostMultipart("/api/v1/incidents", map[string]string{
		"titre":        title,
		"description":  "Oiseau heurté au décollage, piste 04",
		"localisation": "Seuil de piste 04",
	}, "impact.png", photo)
	requireStatus(t, resp, err, http.StatusCreated)
	inc := decodeIncident(t, resp)

	// Assert: labels drive the type, the description drives the priority.
	assert.Equal(t, domain.IncidentTypeBirdStrike, inc.Type)
	assert.Equal(t, domain.PriorityHigh, inc.Priority)
	assert.Contains(t, inc.AIAnalysis, "bird")
	require.NotNil(t, inc.PhotoPath)

	t.Run("photo is served back", func(t *testing.T) {
		resp, err := declarant.GET("/api/v1/files/" + *inc.PhotoPath)
		requireStatus(t, resp, err, http.StatusOK)
		assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
		assert.Equal(t, string(photo), testutil.ReadBody(t, resp))
	})

	t.Run("alert e-mail is delivered", func(t *testing.T) {
		messages, err := mailpitClient.WaitForMessages(1, 15*time.Second)
		require.NoError(t, err)

		var found *testutil.MailpitMessage
		for i := range messages {
			if strings.Contains(messages[i].Subject, title) {
				found = &messages[i]
				break
			}
		}
		require.NotNil(t, found, "no alert for %q", title)
		assert.Contains(t, found.Subject, "ALERTE")
		require.NotEmpty(t, found.To)
		assert.Equal(t, alertRecipient, found.To[0].Address)

		full, err := mailpitClient.GetMessage(found.ID)
		require.NoError(t, err)
		assert.Contains(t, full.HTML, inc.TrackingID)
		assert.Contains(t, full.HTML, "Seuil de piste 04")
	})
}

func TestIncidents_ListAndStats(t *testing.T) {
	declarant, declarantID := newAccount(t, domain.RoleUser, "Essi", "Amouzou")
	operator, _ := newAccount(t, domain.RoleOperator, "Koffi", "Lawson")
	marker := fmt.Sprintf("balise%d", time.Now().UnixNano())

	first := createTextIncident(t, declarant, "Chariot abandonné "+marker, "Chariot à bagages laissé sur la voie de service")
	createTextIncident(t, declarant, "Lampe de balisage "+marker, "Lampe de balisage éteinte en bordure de taxiway")

	resp, err := operator.PUT("/api/v1/incidents/"+first.ID+"/status", map[string]string{"status": "EN_COURS"})
	requireStatus(t, resp, err, http.StatusOK)
	_ = resp.Body.Close()

	type page struct {
		Incidents []incidentBody `json:"incidents"`
		Total     int            `json:"total"`
	}

	t.Run("keyword search", func(t *testing.T) {
		resp, err := declarant.GET("/api/v1/incidents?q=" + marker)
		requireStatus(t, resp, err, http.StatusOK)
		var body envelope[page]
		testutil.DecodeJSON(t, resp, &body)
		assert.Equal(t, 2, body.Data.Total)
		require.Len(t, body.Data.Incidents, 2)
		assert.Contains(t, body.Data.Incidents[0].Title, "Lampe", "newest first")
	})

	t.Run("status filter", func(t *testing.T) {
		resp, err := declarant.GET("/api/v1/incidents?status=EN_COURS&q=" + marker)
		requireStatus(t, resp, err, http.StatusOK)
		var body envelope[page]
		testutil.DecodeJSON(t, resp, &body)
		require.Equal(t, 1, body.Data.Total)
		assert.Equal(t, first.ID, body.Data.Incidents[0].ID)
	})

	t.Run("mine", func(t *testing.T) {
		resp, err := declarant.GET("/api/v1/incidents/mine")
		requireStatus(t, resp, err, http.StatusOK)
		var body envelope[page]
		testutil.DecodeJSON(t, resp, &body)
		assert.Equal(t, 2, body.Data.Total)
	})

	t.Run("declarant filter", func(t *testing.T) {
		resp, err := operator.GET("/api/v1/incidents?declarant_id=" + declarantID)
		requireStatus(t, resp, err, http.StatusOK)
		var body envelope[page]
		testutil.DecodeJSON(t, resp, &body)
		assert.Equal(t, 2, body.Data.Total)
	})

	t.Run("malformed declarant filter", func(t *testing.T) {
		resp, err := operator.GET("/api/v1/incidents?declarant_id=abc")
		requireStatus(t, resp, err, http.StatusBadRequest)
		_ = resp.Body.Close()
	})

	t.Run("stats", func(t *testing.T) {
		resp, err := declarant.GET("/api/v1/incidents/stats")
		requireStatus(t, resp, err, http.StatusOK)
		var body envelope[domain.IncidentStats]
		testutil.DecodeJSON(t, resp, &body)
		assert.GreaterOrEqual(t, body.Data.Total, 2)
		assert.GreaterOrEqual(t, body.Data.ByStatus[domain.IncidentStatusInProgress], 1)
		assert.GreaterOrEqual(t, body.Data.LastWeek, 2)
	})

	t.Run("counts by type are zero-filled", func(t *testing.T) {
		resp, err := declarant.GET("/api/v1/incidents/stats/by-type")
		requireStatus(t, resp, err, http.StatusOK)
		var body envelope[map[domain.IncidentType]int]
		testutil.DecodeJSON(t, resp, &body)
		assert.Len(t, body.Data, len(domain.IncidentTypes))
		assert.GreaterOrEqual(t, body.Data[domain.IncidentTypeOther], 2)
	})
}

func TestUsers_Administration(t *testing.T) {
	operator, _ := newAccount(t, domain.RoleOperator, "Kafui", "Adjo")
	admin := newTestClient(t)
	admin.LoginAs(t, adminEmail, adminPassword)
	marker := fmt.Sprintf("Gbadago%d", time.Now().UnixNano())
	reporter, reporterID := newAccount(t, domain.RoleUser, "Sena", marker)

	type page struct {
		Users []domain.User `json:"users"`
		Total int           `json:"total"`
	}

	t.Run("operator finds an assignee", func(t *testing.T) {
		resp, err := operator.GET("/api/v1/users?q=" + marker)
		requireStatus(t, resp, err, http.StatusOK)
		var body envelope[page]
		testutil.DecodeJSON(t, resp, &body)
		require.Equal(t, 1, body.Data.Total)
		assert.Equal(t, reporterID, body.Data.Users[0].ID)

		resp, err = operator.GET("/api/v1/users/" + reporterID)
		requireStatus(t, resp, err, http.StatusOK)
		_ = resp.Body.Close()
	})

	t.Run("reporter cannot list", func(t *testing.T) {
		resp, err := reporter.GET("/api/v1/users")
		requireStatus(t, resp, err, http.StatusForbidden)
		_ = resp.Body.Close()
	})

	t.Run("promotion", func(t *testing.T) {
		resp, err := admin.PATCH("/api/v1/users/"+reporterID, map[string]string{"role": "operator"})
		requireStatus(t, resp, err, http.StatusOK)
		var body envelope[domain.User]
		testutil.DecodeJSON(t, resp, &body)
		assert.Equal(t, domain.RoleOperator, body.Data.Role)
	})

	t.Run("deactivated account cannot log in", func(t *testing.T) {
		resp, err := admin.DELETE("/api/v1/users/" + reporterID)
		requireStatus(t, resp, err, http.StatusNoContent)
		_ = resp.Body.Close()

		resp, err = admin.GET("/api/v1/users/" + reporterID)
		requireStatus(t, resp, err, http.StatusOK)
		var body envelope[domain.User]
		testutil.DecodeJSON(t, resp, &body)
		email := body.Data.Email
		assert.True(t, body.Data.IsDeleted())

		resp, err = newTestClient(t).POST("/api/v1/auth/login", map[string]string{"email": email, "password": testPassword})
		requireStatus(t, resp, err, http.StatusUnauthorized)
		_ = resp.Body.Close()

		resp, err = admin.POST("/api/v1/users/"+reporterID+"/restore", nil)
		requireStatus(t, resp, err, http.StatusOK)
		_ = resp.Body.Close()

		newTestClient(t).LoginAs(t, email, testPassword)
	})

	t.Run("declarant is not deleted", func(t *testing.T) {
		createTextIncident(t, reporter, "Barrière ouverte "+marker, "Barrière de sécurité ouverte côté fret")

		resp, err := admin.DELETE("/api/v1/users/" + reporterID + "/permanent")
		requireStatus(t, resp, err, http.StatusConflict)
		_ = resp.Body.Close()
	})

	t.Run("delete", func(t *testing.T) {
		_, id := newAccount(t, domain.RoleUser, "Temporaire", marker)

		resp, err := admin.DELETE("/api/v1/users/" + id + "/permanent")
		requireStatus(t, resp, err, http.StatusNoContent)
		_ = resp.Body.Close()

		resp, err = admin.GET("/api/v1/users/" + id)
		requireStatus(t, resp, err, http.StatusNotFound)
		_ = resp.Body.Close()
	})
}
