package knowledge

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeGetter struct {
	val string
	err error
}

func (f *fakeGetter) GetParameter(_ context.Context, _ string) (string, error) {
	return f.val, f.err
}

func TestDefault_RendersEmbeddedProfile(t *testing.T) {
	kc, err := Default()
	require.NoError(t, err)
	require.Equal(t, "Brightlane Digital", kc.Name())
	require.Equal(t, "2026-10-01", kc.Version())
	require.False(t, kc.IsZero())

	text := kc.Text()
	require.Contains(t, text, "Company Name: Brightlane Digital")
	require.Contains(t, text, "Services Offered:")
	require.Contains(t, text, "- SEO Strategy: ")
	require.Contains(t, text, "(More info: /services/seo)")
	require.Contains(t, text, "Featured Projects:")
	require.Contains(t, text, "- Email: hello@brightlane.example")
	require.Contains(t, text, "Social Media:")
}

func TestNew_HashVersionWhenUnset(t *testing.T) {
	a := New(Profile{Name: "Acme", Description: "One"})
	b := New(Profile{Name: "Acme", Description: "Two"})
	require.Len(t, a.Version(), 12)
	require.NotEqual(t, a.Version(), b.Version())
	require.Equal(t, a.Version(), New(Profile{Name: "Acme", Description: "One"}).Version())
}

func TestParseProfile(t *testing.T) {
	p, err := ParseProfile([]byte(`{"name":"Acme","services":[{"title":"Web","description":"Sites"}]}`))
	require.NoError(t, err)
	require.Equal(t, "Acme", p.Name)
	require.Len(t, p.Services, 1)

	_, err = ParseProfile([]byte("description: no name"))
	require.ErrorContains(t, err, "name is required")

	_, err = ParseProfile([]byte("name: [unclosed"))
	require.ErrorContains(t, err, "decode profile")
}

func TestRender_SkipsEmptyFields(t *testing.T) {
	text := New(Profile{Name: "Acme"}).Text()
	require.NotContains(t, text, "Mission:")
	require.NotContains(t, text, "Services Offered:")
	require.NotContains(t, text, "- Email:")
}

func TestLoad(t *testing.T) {
	kc, err := Load(context.Background(), &fakeGetter{val: "name: Acme\nversion: v7\n"}, "/assistant/knowledge")
	require.NoError(t, err)
	require.Equal(t, "v7", kc.Version())

	_, err = Load(context.Background(), &fakeGetter{err: errors.New("ssm down")}, "/assistant/knowledge")
	require.ErrorContains(t, err, "ssm down")

	_, err = Load(context.Background(), nil, "/assistant/knowledge")
	require.Error(t, err)
}
