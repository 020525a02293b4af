package e2e

import (
	"fmt"
	"net/url"
	"os"

	"github.com/cucumber/godog"
)

// InitializeScenario binds the consent lifecycle steps to a fresh context.
func InitializeScenario(sc *godog.ScenarioContext) {
	tc := NewTestContext()

	sc.Step(`^a registered user "([^"]*)" with password "([^"]*)"$`, tc.aRegisteredUser)
	sc.Step(`^the user is logged in$`, tc.theUserIsLoggedIn)
	sc.Step(`^a data provider "([^"]*)" described at "([^"]*)"$`, tc.aDataProvider)
	sc.Step(`^a data consumer "([^"]*)" described at "([^"]*)"$`, tc.aDataConsumer)
	sc.Step(`^both participants know the user$`, tc.bothParticipantsKnowTheUser)
	sc.Step(`^the user lists privacy notices for the pair$`, tc.theUserListsPrivacyNotices)
	sc.Step(`^at least one privacy notice is returned$`, tc.atLeastOneNoticeIsReturned)
	sc.Step(`^the user grants consent to the first notice$`, tc.theUserGrantsConsent)
	sc.Step(`^the consent is granted$`, tc.theConsentIsGranted)
	sc.Step(`^the user triggers the data exchange$`, tc.theUserTriggersTheExchange)
	sc.Step(`^the exchange is accepted$`, tc.theExchangeIsAccepted)
	sc.Step(`^the user revokes the consent$`, tc.theUserRevokesTheConsent)
	sc.Step(`^triggering the data exchange is refused$`, tc.triggeringTheExchangeIsRefused)
}

func (tc *TestContext) aRegisteredUser(email, password string) error {
	tc.UserEmail = email
	if err := tc.Post("/auth/signup", map[string]string{
		"firstName": "E2E", "lastName": "User",
		"email": email, "password": password,
	}, nil); err != nil {
		return err
	}
	// 409 means a previous run already registered this user.
	if tc.LastResponse.StatusCode != 201 && tc.LastResponse.StatusCode != 409 {
		return fmt.Errorf("signup failed with %d: %s", tc.LastResponse.StatusCode, tc.LastResponseBody)
	}
	return tc.Post("/auth/login", map[string]string{"email": email, "password": password}, nil)
}

func (tc *TestContext) theUserIsLoggedIn() error {
	if err := tc.ExpectStatus(200); err != nil {
		return err
	}
	var resp struct {
		AccessToken string `json:"accessToken"`
	}
	if err := tc.DecodeBody(&resp); err != nil {
		return err
	}
	if resp.AccessToken == "" {
		return fmt.Errorf("login returned no access token")
	}
	tc.AccessToken = resp.AccessToken
	return nil
}

func (tc *TestContext) registerParticipant(legalName, sdURL, exportURL, importURL string) (string, string, error) {
	err := tc.Post("/participants", map[string]any{
		"legalName":          legalName,
		"selfDescriptionURL": sdURL,
		"email":              legalName + "@e2e.example",
		"password":           "e2e-password",
		"endpoints": map[string]string{
			"consentExport": exportURL,
			"consentImport": importURL,
		},
	}, nil)
	if err != nil {
		return "", "", err
	}
	if tc.LastResponse.StatusCode != 201 {
		return "", "", fmt.Errorf("participant registration failed with %d: %s",
			tc.LastResponse.StatusCode, tc.LastResponseBody)
	}
	var resp struct {
		ClientID     string `json:"clientID"`
		ClientSecret string `json:"clientSecret"`
	}
	if err := tc.DecodeBody(&resp); err != nil {
		return "", "", err
	}
	return resp.ClientID, resp.ClientSecret, nil
}

func (tc *TestContext) aDataProvider(legalName, sdURL string) error {
	id, secret, err := tc.registerParticipant(legalName, sdURL,
		os.Getenv("E2E_PROVIDER_CONNECTOR_URL"), "")
	if err != nil {
		return err
	}
	tc.ProviderClientID, tc.ProviderClientSecret = id, secret
	tc.providerSD = sdURL
	return nil
}

func (tc *TestContext) aDataConsumer(legalName, sdURL string) error {
	id, secret, err := tc.registerParticipant(legalName, sdURL,
		"", os.Getenv("E2E_CONSUMER_CONNECTOR_URL"))
	if err != nil {
		return err
	}
	tc.ConsumerClientID, tc.ConsumerClientSecret = id, secret
	tc.consumerSD = sdURL
	return nil
}

func (tc *TestContext) bothParticipantsKnowTheUser() error {
	for _, creds := range [][2]string{
		{tc.ProviderClientID, tc.ProviderClientSecret},
		{tc.ConsumerClientID, tc.ConsumerClientSecret},
	} {
		err := tc.Post("/participants/identifiers", map[string]string{
			"email":      tc.UserEmail,
			"identifier": "e2e-" + tc.UserEmail,
		}, map[string]string{
			"X-Client-Id":     creds[0],
			"X-Client-Secret": creds[1],
		})
		if err != nil {
			return err
		}
		if tc.LastResponse.StatusCode != 201 && tc.LastResponse.StatusCode != 409 {
			return fmt.Errorf("identifier registration failed with %d: %s",
				tc.LastResponse.StatusCode, tc.LastResponseBody)
		}
	}
	return nil
}

func (tc *TestContext) theUserListsPrivacyNotices() error {
	return tc.Get("/privacy-notices?dataProvider="+url.QueryEscape(tc.providerSD)+
		"&dataConsumer="+url.QueryEscape(tc.consumerSD), nil)
}

func (tc *TestContext) atLeastOneNoticeIsReturned() error {
	if err := tc.ExpectStatus(200); err != nil {
		return err
	}
	var resp struct {
		Notices []struct {
			ID string `json:"id"`
		} `json:"privacyNotices"`
	}
	if err := tc.DecodeBody(&resp); err != nil {
		return err
	}
	if len(resp.Notices) == 0 {
		return fmt.Errorf("no privacy notices returned")
	}
	tc.NoticeID = resp.Notices[0].ID
	return nil
}

func (tc *TestContext) theUserGrantsConsent() error {
	return tc.Post("/consents", map[string]string{"privacyNoticeId": tc.NoticeID}, nil)
}

func (tc *TestContext) theConsentIsGranted() error {
	if err := tc.ExpectStatus(201); err != nil {
		return err
	}
	var resp struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := tc.DecodeBody(&resp); err != nil {
		return err
	}
	if resp.Status != "granted" {
		return fmt.Errorf("expected status granted, got %q", resp.Status)
	}
	tc.ConsentID = resp.ID
	return nil
}

func (tc *TestContext) theUserTriggersTheExchange() error {
	return tc.Post("/consents/"+tc.ConsentID+"/data-exchange", map[string]string{}, nil)
}

func (tc *TestContext) theExchangeIsAccepted() error {
	return tc.ExpectStatus(200)
}

func (tc *TestContext) theUserRevokesTheConsent() error {
	if err := tc.Post("/consents/"+tc.ConsentID+"/revoke", map[string]string{}, nil); err != nil {
		return err
	}
	return tc.ExpectStatus(200)
}

func (tc *TestContext) triggeringTheExchangeIsRefused() error {
	if err := tc.Post("/consents/"+tc.ConsentID+"/data-exchange", map[string]string{}, nil); err != nil {
		return err
	}
	return tc.ExpectStatus(403)
}
